package upstream

import (
	"context"
	"fmt"
	"regexp"

	"github.com/tidwall/gjson"
)

// Upstream task status codes.
const (
	StatusPending = 20
	StatusFailed  = 30
)

// PollResult is the outcome of a single status check.
type PollResult struct {
	Status        int64
	FailCode      string
	FailMsg       string
	VideoURL      string
	QueuePosition int
	QueueTotal    int
	QueueETA      string
	ItemID        string
}

// PollStatus checks a submitted draft's generation status by history
// record id.
func (c *Client) PollStatus(ctx context.Context, sessionToken, historyRecordID string) (*PollResult, error) {
	uri := "/mweb/v1/get_history_by_ids"
	body := mustJSON(map[string]any{"history_ids": []string{historyRecordID}})

	resp, err := c.post(ctx, jimengBase+uri, uri, sessionToken, standardQueryParams(), body)
	if err != nil {
		return nil, fmt.Errorf("poll status: %w", err)
	}

	payload := gjson.ParseBytes(resp)
	data := payload
	if d := payload.Get("data"); d.Exists() {
		data = d
	}

	historyData := firstExisting(
		data.Get("history_list.0"),
		data.Get(gjsonEscape(historyRecordID)),
		payload.Get(gjsonEscape(historyRecordID)),
		data.Get("history_records.0"),
	)
	if !historyData.Exists() {
		return nil, fmt.Errorf("history record not found for %s", historyRecordID)
	}

	status := historyData.Get("status")
	statusNum := int64(StatusPending)
	if status.Exists() {
		statusNum = status.Int()
	}

	failCode := firstExisting(historyData.Get("fail_code"), historyData.Get("error_code"))
	failMsg := firstExisting(historyData.Get("fail_msg"), historyData.Get("error_msg"), historyData.Get("message"))

	result := &PollResult{
		Status:   statusNum,
		FailCode: failCode.String(),
		FailMsg:  failMsg.String(),
	}

	items := historyData.Get("item_list")
	if items.Exists() && items.IsArray() && len(items.Array()) > 0 {
		first := items.Array()[0]
		url := firstExisting(
			first.Get("video.transcoded_video.origin.video_url"),
			first.Get("video.play_url"),
			first.Get("video.download_url"),
			first.Get("video.url"),
		)
		if url.Exists() && url.String() != "" {
			result.VideoURL = url.String()
		}
		id := firstExisting(
			first.Get("item_id"),
			first.Get("id"),
			first.Get("local_item_id"),
			first.Get("common_attr.id"),
		)
		if id.Exists() {
			result.ItemID = id.String()
		}
	}

	if qi := historyData.Get("queue_info"); qi.Exists() {
		if pos := qi.Get("queue_idx"); pos.Exists() {
			result.QueuePosition = int(pos.Int())
		}
		if total := qi.Get("queue_length"); total.Exists() {
			result.QueueTotal = int(total.Int())
		}
		if forecast := historyData.Get("forecast_queue_cost"); forecast.Exists() {
			result.QueueETA = formatETA(forecast.Int())
		}
	}

	return result, nil
}

func formatETA(seconds int64) string {
	switch {
	case seconds >= 3600:
		return fmt.Sprintf("%dh%dm", seconds/3600, (seconds%3600)/60)
	case seconds >= 60:
		return fmt.Sprintf("%dm%ds", seconds/60, seconds%60)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}

func firstExisting(results ...gjson.Result) gjson.Result {
	for _, r := range results {
		if r.Exists() {
			return r
		}
	}
	return gjson.Result{}
}

// gjsonEscape escapes a raw key for use as a gjson path segment (history
// record ids are opaque numeric/string ids and never contain path
// metacharacters in practice, but this keeps the lookup correct if they
// ever do).
func gjsonEscape(key string) string {
	out := make([]byte, 0, len(key))
	for i := 0; i < len(key); i++ {
		c := key[i]
		if c == '.' || c == '*' || c == '?' || c == '|' {
			out = append(out, '\\')
		}
		out = append(out, c)
	}
	return string(out)
}

var hqVideoURLPatterns = []*regexp.Regexp{
	regexp.MustCompile(`https://v\d+-dreamnia\.jimeng\.com/[^"\s\\]+`),
	regexp.MustCompile(`https://v\d+-[^"\\\s]*\.jimeng\.com/[^"\s\\]+`),
}

// FetchHQVideoURL tries to resolve a higher-quality video URL for an
// already-generated item via get_local_item_list, falling back to a
// regex scan of the raw response for a matching CDN URL.
func (c *Client) FetchHQVideoURL(ctx context.Context, sessionToken, itemID string) (string, error) {
	uri := "/mweb/v1/get_local_item_list"
	body := mustJSON(map[string]any{
		"item_id_list":         []string{itemID},
		"pack_item_opt":        map[string]any{"scene": 1, "need_data_integrity": true},
		"is_for_video_download": true,
	})

	resp, err := c.post(ctx, jimengBase+uri, uri, sessionToken, standardQueryParams(), body)
	if err != nil {
		return "", fmt.Errorf("fetch hq video url: %w", err)
	}

	payload := gjson.ParseBytes(resp)
	data := payload
	if d := payload.Get("data"); d.Exists() {
		data = d
	}

	items := firstExisting(data.Get("item_list"), data.Get("local_item_list"))
	if items.Exists() && items.IsArray() && len(items.Array()) > 0 {
		first := items.Array()[0]
		url := firstExisting(
			first.Get("video.transcoded_video.origin.video_url"),
			first.Get("video.download_url"),
			first.Get("video.play_url"),
			first.Get("video.url"),
		)
		if url.Exists() {
			return url.String(), nil
		}
	}

	text := string(resp)
	for _, re := range hqVideoURLPatterns {
		if m := re.FindString(text); m != "" {
			return m, nil
		}
	}
	return "", nil
}
