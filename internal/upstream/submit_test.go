package upstream

import "testing"

func TestParseSubmitResponsePrefersDataHistoryOverTopLevelAigcData(t *testing.T) {
	body := []byte(`{"ret":0,"data":{"history_record_id":"from-data"},"aigc_data":{"history_record_id":"from-top-level-aigc"}}`)
	result, err := parseSubmitResponse(body)
	if err != nil {
		t.Fatalf("parseSubmitResponse: %v", err)
	}
	if result.HistoryRecordID != "from-data" {
		t.Fatalf("expected standard ordering to favor data.history_record_id, got %q", result.HistoryRecordID)
	}
}

func TestParseSeedanceSubmitResponsePrefersTopLevelAigcDataOverData(t *testing.T) {
	body := []byte(`{"ret":0,"data":{"history_record_id":"from-data"},"aigc_data":{"history_record_id":"from-top-level-aigc"}}`)
	result, err := parseSeedanceSubmitResponse(body)
	if err != nil {
		t.Fatalf("parseSeedanceSubmitResponse: %v", err)
	}
	if result.HistoryRecordID != "from-top-level-aigc" {
		t.Fatalf("expected seedance ordering to favor aigc_data.history_record_id, got %q", result.HistoryRecordID)
	}
}

func TestParseSubmitResponseNestedAigcDataWinsInBothOrders(t *testing.T) {
	body := []byte(`{"ret":0,"data":{"aigc_data":{"history_record_id":"nested"},"history_record_id":"from-data"},"aigc_data":{"history_record_id":"from-top-level-aigc"}}`)
	standard, err := parseSubmitResponse(body)
	if err != nil {
		t.Fatalf("parseSubmitResponse: %v", err)
	}
	if standard.HistoryRecordID != "nested" {
		t.Fatalf("expected data.aigc_data.history_record_id to win, got %q", standard.HistoryRecordID)
	}
	seedance, err := parseSeedanceSubmitResponse(body)
	if err != nil {
		t.Fatalf("parseSeedanceSubmitResponse: %v", err)
	}
	if seedance.HistoryRecordID != "nested" {
		t.Fatalf("expected data.aigc_data.history_record_id to win, got %q", seedance.HistoryRecordID)
	}
}

func TestParseSubmitResponseNonZeroRetIsError(t *testing.T) {
	body := []byte(`{"ret":1017,"errmsg":"session expired"}`)
	if _, err := parseSubmitResponse(body); err == nil {
		t.Fatal("expected a non-zero ret to produce an error")
	}
}
