package models

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"gorm.io/datatypes"
)

// Source types a report may carry. Restock and auction reports are never priced.
const (
	SourceShop     = "shop"
	SourceAuction  = "auction"
	SourceTrade    = "trade"
	SourceUserShop = "usershop"
	SourceRestock  = "restock"
	SourceOther    = "other"
)

// PriceReport is one crowd-submitted price observation waiting to be aggregated
type PriceReport struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	Name        string    `json:"name" gorm:"type:varchar(255);index;not null"`
	ItemID      *int64    `json:"item_id" gorm:"index"`
	Image       string    `json:"image" gorm:"type:varchar(512)"`
	ImageID     string    `json:"image_id" gorm:"type:varchar(255)"`
	Owner       string    `json:"owner" gorm:"type:varchar(255)"`
	SourceType  string    `json:"type" gorm:"column:type;type:varchar(32);index"`
	Stock       *int      `json:"stock"`
	Price       int64     `json:"price" gorm:"not null"`
	OtherInfo   string    `json:"other_info" gorm:"type:text"`
	Language    string    `json:"language" gorm:"type:varchar(16)"`
	IPAddress   string    `json:"-" gorm:"type:varchar(64)"`
	NeoID       *int64    `json:"neo_id"`
	Hash        string    `json:"-" gorm:"type:varchar(64);uniqueIndex"`
	Processed   bool      `json:"processed" gorm:"index;default:false"`
	SubmittedAt time.Time `json:"submitted_at" gorm:"index;not null"`
}

// ProcessingMarker records that a report name was attempted by a batch run
type ProcessingMarker struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	Name      string    `json:"name" gorm:"type:varchar(255);index;not null"`
	CreatedAt time.Time `json:"created_at"`
}

// CatalogItem is an item known to the catalog. Identified by ItemID when set,
// otherwise by the case-sensitive (Name, ImageID) pair.
type CatalogItem struct {
	ID      uint   `json:"internal_id" gorm:"primaryKey"`
	ItemID  *int64 `json:"item_id" gorm:"uniqueIndex"`
	Name    string `json:"name" gorm:"type:varchar(255);index:idx_item_name_image;not null"`
	ImageID string `json:"image_id" gorm:"type:varchar(255);index:idx_item_name_image"`
}

// TrustedPrice is a committed price point. Rows are never updated.
type TrustedPrice struct {
	ID               uint           `json:"id" gorm:"primaryKey"`
	ItemInternalID   uint           `json:"item_iid" gorm:"index;not null"`
	Item             CatalogItem    `json:"-" gorm:"foreignKey:ItemInternalID"`
	Name             string         `json:"name" gorm:"type:varchar(255)"`
	ItemID           *int64         `json:"item_id"`
	ImageID          string         `json:"image_id" gorm:"type:varchar(255)"`
	Price            int64          `json:"price" gorm:"not null"`
	AddedAt          time.Time      `json:"added_at" gorm:"index;not null"`
	ManualCheck      *string        `json:"manual_check" gorm:"type:varchar(64)"`
	NoInflationRefID *uint          `json:"no_inflation_id" gorm:"column:no_inflation_id"`
	UsedReportIDs    datatypes.JSON `json:"used_report_ids"`
	CreatedAt        time.Time      `json:"created_at"`
}

// Inflated reports whether the row is still considered part of an inflation episode.
func (p TrustedPrice) Inflated() bool {
	return p.NoInflationRefID != nil
}

// ReportIDs decodes UsedReportIDs. An empty column decodes to no ids.
func (p TrustedPrice) ReportIDs() ([]uint, error) {
	var ids []uint
	if len(p.UsedReportIDs) == 0 {
		return ids, nil
	}
	if err := json.Unmarshal(p.UsedReportIDs, &ids); err != nil {
		return nil, eris.Wrapf(err, "decode used report ids of price %d", p.ID)
	}
	return ids, nil
}

// EncodeReportIDs packs report ids into a JSON column value.
func EncodeReportIDs(ids []uint) datatypes.JSON {
	if ids == nil {
		ids = []uint{}
	}
	raw, _ := json.Marshal(ids)
	return datatypes.JSON(raw)
}
