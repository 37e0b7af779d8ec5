package upstream

import (
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
)

const (
	defaultAssistantID = 513695
	versionCode         = "8.4.0"
	platformCode        = "7"
	userAgent           = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/132.0.0.0 Safari/537.36"
)

// deviceID, webID and userID stand in for the Rust client's lazy_static
// fake identifiers: generated once per process and reused for every
// request so they look like a stable browser install rather than a
// fresh one on each call.
var (
	deviceID = randomDeviceNumber()
	webID    = randomDeviceNumber()
	userID   = generateUserID()
)

func randomDeviceNumber() uint64 {
	n, err := rand.Int(rand.Reader, big.NewInt(999999999999999999))
	if err != nil {
		return 7123456789012345678
	}
	return n.Uint64() + 7000000000000000000
}

func generateUserID() string {
	id := uuid.New().String()
	out := make([]byte, 0, len(id))
	for _, c := range id {
		if c != '-' {
			out = append(out, byte(c))
		}
	}
	return string(out)
}

// generateCookie builds the Cookie header value for a session token.
func generateCookie(sessionToken string) string {
	now := time.Now().Unix()
	return fmt.Sprintf(
		"_tea_web_id=%d; is_staff_user=false; store-region=cn-gd; store-region-src=uid; "+
			"sid_guard=%s%%7C%d%%7C5184000%%7CMon%%2C+03-Feb-2025+08%%3A17%%3A09+GMT; "+
			"uid_tt=%s; uid_tt_ss=%s; sid_tt=%s; sessionid=%s; sessionid_ss=%s",
		webID, sessionToken, now, userID, userID, sessionToken, sessionToken, sessionToken,
	)
}

// computeSign implements the upstream's lightweight request signature:
// md5("9e2c|{last 7 chars of uri}|{platform}|{version}|{timestamp}||11ac").
func computeSign(uri string, timestamp int64) string {
	suffix := uri
	if len(uri) >= 7 {
		suffix = uri[len(uri)-7:]
	}
	input := fmt.Sprintf("9e2c|%s|%s|%s|%d||11ac", suffix, platformCode, versionCode, timestamp)
	sum := md5.Sum([]byte(input))
	return hex.EncodeToString(sum[:])
}

// buildHeaders assembles the fake-browser header set required by every
// jimeng API call.
func buildHeaders(sessionToken, uri string) http.Header {
	timestamp := time.Now().Unix()
	sign := computeSign(uri, timestamp)
	cookie := generateCookie(sessionToken)

	h := http.Header{}
	h.Set("Accept", "application/json, text/plain, */*")
	h.Set("Accept-Encoding", "gzip, deflate, br, zstd")
	h.Set("Accept-Language", "zh-CN,zh;q=0.9")
	h.Set("App-Sdk-Version", "48.0.0")
	h.Set("Cache-Control", "no-cache")
	h.Set("Appid", strconv.Itoa(defaultAssistantID))
	h.Set("Appvr", versionCode)
	h.Set("Lan", "zh-Hans")
	h.Set("Loc", "cn")
	h.Set("Origin", "https://jimeng.jianying.com")
	h.Set("Pragma", "no-cache")
	h.Set("Referer", "https://jimeng.jianying.com")
	h.Set("Pf", platformCode)
	h.Set("User-Agent", userAgent)
	h.Set("Cookie", cookie)
	h.Set("Device-Time", strconv.FormatInt(timestamp, 10))
	h.Set("Sign", sign)
	h.Set("Sign-Ver", "1")
	return h
}

// standardQueryParams returns the query parameters appended to every
// jimeng API request.
func standardQueryParams() url.Values {
	v := url.Values{}
	v.Set("aid", strconv.Itoa(defaultAssistantID))
	v.Set("device_platform", "web")
	v.Set("region", "cn")
	v.Set("webId", strconv.FormatUint(webID, 10))
	v.Set("da_version", "3.3.2")
	v.Set("web_component_open_flag", "1")
	v.Set("web_version", "7.5.0")
	v.Set("aigc_features", "app_lip_sync")
	return v
}
