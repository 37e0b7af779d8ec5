package upstream

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash/crc32"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

const (
	imagexHost        = "https://imagex.bytedanceapi.com"
	vodHost           = "https://vod.bytedanceapi.com"
	defaultServiceID  = "tb4s082cfz"
	defaultSpaceName  = "dreamina"
	sigV4Region       = "cn-north-1"
)

func crc32Hex(data []byte) string {
	return fmt.Sprintf("%08x", crc32.ChecksumIEEE(data))
}

func hmacSHA256(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func awsTimestamp() string {
	return time.Now().UTC().Format("20060102T150405Z")
}

// aws4Signature builds an AWS Signature V4 Authorization header value
// for a request against the ByteDance ImageX/VOD S3-compatible APIs.
func aws4Signature(method, rawURL string, headersToSign [][2]string, accessKeyID, secretAccessKey, sessionToken, payload, region, service string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	pathname := parsed.Path

	var timestamp string
	for _, h := range headersToSign {
		if h[0] == "x-amz-date" {
			timestamp = h[1]
		}
	}
	if len(timestamp) < 8 {
		return "", fmt.Errorf("aws4Signature: missing x-amz-date header")
	}
	date := timestamp[:8]

	query := parsed.Query()
	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+query.Get(k))
	}
	canonicalQuery := strings.Join(pairs, "&")

	type kv struct{ k, v string }
	signHeaders := make([]kv, 0, len(headersToSign)+2)
	for _, h := range headersToSign {
		signHeaders = append(signHeaders, kv{strings.ToLower(h[0]), h[1]})
	}
	hasHeader := func(name string) bool {
		for _, h := range signHeaders {
			if h.k == name {
				return true
			}
		}
		return false
	}
	if sessionToken != "" && !hasHeader("x-amz-security-token") {
		signHeaders = append(signHeaders, kv{"x-amz-security-token", sessionToken})
	}

	var payloadHash string
	if strings.ToUpper(method) == "POST" && payload != "" {
		payloadHash = sha256Hex([]byte(payload))
		if !hasHeader("x-amz-content-sha256") {
			signHeaders = append(signHeaders, kv{"x-amz-content-sha256", payloadHash})
		}
	} else {
		payloadHash = sha256Hex(nil)
	}

	sort.Slice(signHeaders, func(i, j int) bool { return signHeaders[i].k < signHeaders[j].k })
	signedNames := make([]string, 0, len(signHeaders))
	var canonicalHeaders strings.Builder
	for _, h := range signHeaders {
		signedNames = append(signedNames, h.k)
		canonicalHeaders.WriteString(h.k)
		canonicalHeaders.WriteByte(':')
		canonicalHeaders.WriteString(strings.TrimSpace(h.v))
		canonicalHeaders.WriteByte('\n')
	}
	signedHeadersStr := strings.Join(signedNames, ";")

	canonicalRequest := strings.ToUpper(method) + "\n" + pathname + "\n" + canonicalQuery + "\n" +
		canonicalHeaders.String() + "\n" + signedHeadersStr + "\n" + payloadHash

	credentialScope := date + "/" + region + "/" + service + "/aws4_request"
	stringToSign := "AWS4-HMAC-SHA256\n" + timestamp + "\n" + credentialScope + "\n" + sha256Hex([]byte(canonicalRequest))

	kDate := hmacSHA256([]byte("AWS4"+secretAccessKey), []byte(date))
	kRegion := hmacSHA256(kDate, []byte(region))
	kService := hmacSHA256(kRegion, []byte(service))
	kSigning := hmacSHA256(kService, []byte("aws4_request"))
	signature := hex.EncodeToString(hmacSHA256(kSigning, []byte(stringToSign)))

	return fmt.Sprintf("AWS4-HMAC-SHA256 Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		accessKeyID, credentialScope, signedHeadersStr, signature), nil
}

// getUploadToken fetches ImageX/VOD upload credentials scoped to a
// scene (2 = image, 1 = video/audio).
func getUploadToken(ctx context.Context, c *Client, sessionToken string, scene int) (gjson.Result, error) {
	uri := "/mweb/v1/get_upload_token"
	body := fmt.Sprintf(`{"scene":%d}`, scene)
	resp, err := c.post(ctx, jimengBase+uri, uri, sessionToken, standardQueryParams(), body)
	if err != nil {
		return gjson.Result{}, err
	}
	val := gjson.ParseBytes(resp)
	if data := val.Get("data"); data.Exists() {
		return data, nil
	}
	return val, nil
}

func randomUploadSuffix() string {
	id := uuid.New().String()
	if len(id) < 10 {
		return id
	}
	return strings.ReplaceAll(id[:10], "-", "a")
}

// UploadImage uploads an image to ImageX and returns its store URI.
// Flow: get_upload_token(scene=2) -> ApplyImageUpload -> raw upload ->
// CommitImageUpload.
func (c *Client) UploadImage(ctx context.Context, sessionToken string, imageData []byte) (string, error) {
	token, err := getUploadToken(ctx, c, sessionToken, 2)
	if err != nil {
		return "", err
	}
	accessKey := token.Get("access_key_id").String()
	secretKey := token.Get("secret_access_key").String()
	sessTok := token.Get("session_token").String()
	serviceID := token.Get("service_id").String()
	if serviceID == "" {
		serviceID = defaultServiceID
	}
	if accessKey == "" || secretKey == "" || sessTok == "" {
		return "", fmt.Errorf("failed to get ImageX upload token")
	}

	randomStr := randomUploadSuffix()
	timestamp := awsTimestamp()
	applyURL := fmt.Sprintf("%s/?Action=ApplyImageUpload&Version=2018-08-01&ServiceId=%s&FileSize=%d&s=%s",
		imagexHost, serviceID, len(imageData), randomStr)

	auth, err := aws4Signature("GET", applyURL, [][2]string{
		{"x-amz-date", timestamp},
		{"x-amz-security-token", sessTok},
	}, accessKey, secretKey, sessTok, "", sigV4Region, "imagex")
	if err != nil {
		return "", err
	}

	applyReq, err := http.NewRequestWithContext(ctx, http.MethodGet, applyURL, nil)
	if err != nil {
		return "", err
	}
	applyReq.Header.Set("accept", "*/*")
	applyReq.Header.Set("authorization", auth)
	applyReq.Header.Set("origin", "https://jimeng.jianying.com")
	applyReq.Header.Set("referer", "https://jimeng.jianying.com/ai-tool/video/generate")
	applyReq.Header.Set("user-agent", userAgent)
	applyReq.Header.Set("x-amz-date", timestamp)
	applyReq.Header.Set("x-amz-security-token", sessTok)

	applyBody, err := c.do(applyReq)
	if err != nil {
		return "", fmt.Errorf("ApplyImageUpload: %w", err)
	}
	applyResult := gjson.ParseBytes(applyBody)
	if e := applyResult.Get("ResponseMetadata.Error"); e.Exists() {
		return "", fmt.Errorf("ApplyImageUpload failed: %s", e.Raw)
	}

	storeInfo := applyResult.Get("Result.UploadAddress.StoreInfos.0")
	uploadHost := applyResult.Get("Result.UploadAddress.UploadHosts.0").String()
	if !storeInfo.Exists() || uploadHost == "" {
		return "", fmt.Errorf("ApplyImageUpload: missing UploadAddress in response")
	}
	storeURI := storeInfo.Get("StoreUri").String()
	storeAuth := storeInfo.Get("Auth").String()
	sessionKey := applyResult.Get("Result.UploadAddress.SessionKey").String()

	uploadURL := fmt.Sprintf("https://%s/upload/v1/%s", uploadHost, storeURI)
	uploadReq, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, bytes.NewReader(imageData))
	if err != nil {
		return "", err
	}
	uploadReq.Header.Set("Authorization", storeAuth)
	uploadReq.Header.Set("Content-CRC32", crc32Hex(imageData))
	uploadReq.Header.Set("Content-Disposition", `attachment; filename="undefined"`)
	uploadReq.Header.Set("Content-Type", "application/octet-stream")
	uploadReq.Header.Set("Origin", "https://jimeng.jianying.com")
	uploadReq.Header.Set("User-Agent", userAgent)
	if _, err := c.do(uploadReq); err != nil {
		return "", fmt.Errorf("image upload: %w", err)
	}

	commitURL := fmt.Sprintf("%s/?Action=CommitImageUpload&Version=2018-08-01&ServiceId=%s", imagexHost, serviceID)
	commitTimestamp := awsTimestamp()
	commitPayload := fmt.Sprintf(`{"SessionKey":%q,"SuccessActionStatus":"200"}`, sessionKey)
	payloadHash := sha256Hex([]byte(commitPayload))

	commitAuth, err := aws4Signature("POST", commitURL, [][2]string{
		{"x-amz-date", commitTimestamp},
		{"x-amz-security-token", sessTok},
		{"x-amz-content-sha256", payloadHash},
	}, accessKey, secretKey, sessTok, commitPayload, sigV4Region, "imagex")
	if err != nil {
		return "", err
	}

	commitReq, err := http.NewRequestWithContext(ctx, http.MethodPost, commitURL, strings.NewReader(commitPayload))
	if err != nil {
		return "", err
	}
	commitReq.Header.Set("authorization", commitAuth)
	commitReq.Header.Set("content-type", "application/json")
	commitReq.Header.Set("origin", "https://jimeng.jianying.com")
	commitReq.Header.Set("user-agent", userAgent)
	commitReq.Header.Set("x-amz-date", commitTimestamp)
	commitReq.Header.Set("x-amz-security-token", sessTok)
	commitReq.Header.Set("x-amz-content-sha256", payloadHash)

	commitBody, err := c.do(commitReq)
	if err != nil {
		return "", fmt.Errorf("CommitImageUpload: %w", err)
	}
	commitResult := gjson.ParseBytes(commitBody)
	if e := commitResult.Get("ResponseMetadata.Error"); e.Exists() {
		return "", fmt.Errorf("CommitImageUpload failed: %s", e.Raw)
	}
	if uri := commitResult.Get("Result.PluginResult.0.ImageUri"); uri.Exists() {
		return uri.String(), nil
	}
	if uri := commitResult.Get("Result.Results.0.Uri"); uri.Exists() {
		return uri.String(), nil
	}
	return "", fmt.Errorf("CommitImageUpload: no URI in response: %s", string(commitBody))
}

// VodUploadResult is the outcome of a video/audio upload to VOD.
type VodUploadResult struct {
	VID      string
	Width    int
	Height   int
	Duration int
	FPS      int
}

// UploadMedia uploads a video or audio file to ByteDance VOD.
// Flow: get_upload_token(scene=1) -> ApplyUploadInner -> raw upload ->
// CommitUploadInner.
func (c *Client) UploadMedia(ctx context.Context, sessionToken string, data []byte, mediaType MaterialType) (*VodUploadResult, error) {
	token, err := getUploadToken(ctx, c, sessionToken, 1)
	if err != nil {
		return nil, err
	}
	accessKey := token.Get("access_key_id").String()
	secretKey := token.Get("secret_access_key").String()
	sessTok := token.Get("session_token").String()
	spaceName := token.Get("space_name").String()
	if spaceName == "" {
		spaceName = defaultSpaceName
	}
	if accessKey == "" || secretKey == "" || sessTok == "" {
		return nil, fmt.Errorf("failed to get VOD upload token")
	}

	randomStr := uuid.New().String()[:10]
	timestamp := awsTimestamp()
	applyURL := fmt.Sprintf("%s/?Action=ApplyUploadInner&Version=2020-11-19&SpaceName=%s&FileType=video&IsInner=1&FileSize=%d&s=%s",
		vodHost, spaceName, len(data), randomStr)

	auth, err := aws4Signature("GET", applyURL, [][2]string{
		{"x-amz-date", timestamp},
		{"x-amz-security-token", sessTok},
	}, accessKey, secretKey, sessTok, "", sigV4Region, "vod")
	if err != nil {
		return nil, err
	}

	applyReq, err := http.NewRequestWithContext(ctx, http.MethodGet, applyURL, nil)
	if err != nil {
		return nil, err
	}
	applyReq.Header.Set("authorization", auth)
	applyReq.Header.Set("origin", "https://jimeng.jianying.com")
	applyReq.Header.Set("user-agent", userAgent)
	applyReq.Header.Set("x-amz-date", timestamp)
	applyReq.Header.Set("x-amz-security-token", sessTok)

	applyBody, err := c.do(applyReq)
	if err != nil {
		return nil, fmt.Errorf("ApplyUploadInner: %w", err)
	}
	applyResult := gjson.ParseBytes(applyBody)
	if e := applyResult.Get("ResponseMetadata.Error"); e.Exists() {
		return nil, fmt.Errorf("ApplyUploadInner failed: %s", e.Raw)
	}

	uploadNode := applyResult.Get("Result.InnerUploadAddress.UploadNodes.0")
	if !uploadNode.Exists() {
		return nil, fmt.Errorf("no upload nodes in VOD response")
	}
	storeInfo := uploadNode.Get("StoreInfos.0")
	if !storeInfo.Exists() {
		return nil, fmt.Errorf("no StoreInfos in VOD upload node")
	}
	uploadHost := uploadNode.Get("UploadHost").String()
	storeURI := storeInfo.Get("StoreUri").String()
	storeAuth := storeInfo.Get("Auth").String()
	sessionKey := uploadNode.Get("SessionKey").String()
	vid := uploadNode.Get("Vid").String()

	uploadURL := fmt.Sprintf("https://%s/upload/v1/%s", uploadHost, storeURI)
	uploadReq, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	uploadReq.Header.Set("Authorization", storeAuth)
	uploadReq.Header.Set("Content-CRC32", crc32Hex(data))
	uploadReq.Header.Set("Content-Type", "application/octet-stream")
	uploadReq.Header.Set("Origin", "https://jimeng.jianying.com")
	uploadReq.Header.Set("User-Agent", userAgent)
	if _, err := c.do(uploadReq); err != nil {
		return nil, fmt.Errorf("VOD upload: %w", err)
	}

	commitURL := fmt.Sprintf("%s/?Action=CommitUploadInner&Version=2020-11-19&SpaceName=%s", vodHost, spaceName)
	commitTimestamp := awsTimestamp()
	commitPayload := fmt.Sprintf(`{"SessionKey":%q,"Functions":[]}`, sessionKey)
	payloadHash := sha256Hex([]byte(commitPayload))

	commitAuth, err := aws4Signature("POST", commitURL, [][2]string{
		{"x-amz-date", commitTimestamp},
		{"x-amz-security-token", sessTok},
		{"x-amz-content-sha256", payloadHash},
	}, accessKey, secretKey, sessTok, commitPayload, sigV4Region, "vod")
	if err != nil {
		return nil, err
	}

	commitReq, err := http.NewRequestWithContext(ctx, http.MethodPost, commitURL, strings.NewReader(commitPayload))
	if err != nil {
		return nil, err
	}
	commitReq.Header.Set("authorization", commitAuth)
	commitReq.Header.Set("content-type", "application/json")
	commitReq.Header.Set("origin", "https://jimeng.jianying.com")
	commitReq.Header.Set("user-agent", userAgent)
	commitReq.Header.Set("x-amz-date", commitTimestamp)
	commitReq.Header.Set("x-amz-security-token", sessTok)
	commitReq.Header.Set("x-amz-content-sha256", payloadHash)

	commitBody, err := c.do(commitReq)
	if err != nil {
		return nil, fmt.Errorf("CommitUploadInner: %w", err)
	}
	commitResult := gjson.ParseBytes(commitBody)
	if e := commitResult.Get("ResponseMetadata.Error"); e.Exists() {
		return nil, fmt.Errorf("CommitUploadInner failed: %s", e.Raw)
	}
	result := commitResult.Get("Result.Results.0")
	if !result.Exists() {
		return nil, fmt.Errorf("no results in CommitUploadInner response")
	}

	finalVID := result.Get("Vid").String()
	if finalVID == "" {
		finalVID = vid
	}
	videoMeta := result.Get("VideoMeta")
	durationMs := int(videoMeta.Get("Duration").Float() * 1000)
	if durationMs == 0 && mediaType == MaterialAudio {
		durationMs = parseAudioDuration(data)
	}

	return &VodUploadResult{
		VID:      finalVID,
		Width:    int(videoMeta.Get("Width").Int()),
		Height:   int(videoMeta.Get("Height").Int()),
		Duration: durationMs,
		FPS:      int(videoMeta.Get("Fps").Int()),
	}, nil
}

// parseAudioDuration estimates an audio clip's duration in
// milliseconds from its WAV header, falling back to a 128kbps
// size-based estimate for non-WAV data.
func parseAudioDuration(data []byte) int {
	if len(data) < 44 {
		return 0
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return int(float64(len(data)) / (128.0 * 1000.0 / 8.0) * 1000.0)
	}
	byteRate := uint32(data[28]) | uint32(data[29])<<8 | uint32(data[30])<<16 | uint32(data[31])<<24
	if byteRate == 0 {
		return 0
	}
	offset := 12
	for offset+8 < len(data) {
		chunkID := string(data[offset : offset+4])
		chunkSize := uint32(data[offset+4]) | uint32(data[offset+5])<<8 | uint32(data[offset+6])<<16 | uint32(data[offset+7])<<24
		if chunkID == "data" {
			return int(float64(chunkSize) / float64(byteRate) * 1000.0)
		}
		offset += 8 + int(chunkSize)
	}
	return int(float64(len(data)-44) / float64(byteRate) * 1000.0)
}

// DownloadFile fetches a URL's body under a 60-second timeout. The
// worker pipeline does not call it: finished videos are returned to
// clients as URLs, not re-downloaded.
func (c *Client) DownloadFile(ctx context.Context, rawURL string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("download failed: HTTP %d for %s", resp.StatusCode, rawURL)
	}
	return io.ReadAll(resp.Body)
}
