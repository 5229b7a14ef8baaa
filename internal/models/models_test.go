package models

import (
	"testing"

	"gorm.io/datatypes"
)

func TestReportIDs(t *testing.T) {
	p := TrustedPrice{UsedReportIDs: EncodeReportIDs([]uint{3, 1, 2})}
	ids, err := p.ReportIDs()
	if err != nil || len(ids) != 3 || ids[0] != 3 {
		t.Fatalf("unexpected ids %v %v", ids, err)
	}

	if ids, err := (TrustedPrice{}).ReportIDs(); err != nil || len(ids) != 0 {
		t.Fatalf("empty column should decode to no ids, got %v %v", ids, err)
	}
	if got := string(EncodeReportIDs(nil)); got != "[]" {
		t.Fatalf("nil ids should encode as an empty list, got %s", got)
	}
}

func TestReportIDsCorruptColumn(t *testing.T) {
	p := TrustedPrice{ID: 9, UsedReportIDs: datatypes.JSON("not json")}
	if _, err := p.ReportIDs(); err == nil {
		t.Fatalf("expected a decode error")
	}
}
