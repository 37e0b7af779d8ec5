// Package upstream talks to the jimeng.jianying.com video generation
// backend: request signing, material upload, draft submission, and
// status polling.
package upstream

import (
	"strconv"
	"strings"
)

var modelMap = map[string]string{
	"jimeng-video-3.5-pro":          "dreamina_ic_generate_video_model_vgfm_3.5_pro",
	"jimeng-video-3.0-pro":          "dreamina_ic_generate_video_model_vgfm_3.0_pro",
	"jimeng-video-3.0":              "dreamina_ic_generate_video_model_vgfm_3.0",
	"jimeng-video-2.0":              "dreamina_ic_generate_video_model_vgfm_lite",
	"jimeng-video-2.0-pro":          "dreamina_ic_generate_video_model_vgfm1.0",
	"jimeng-video-seedance-2.0":     "dreamina_seedance_40_pro",
	"seedance-2.0":                  "dreamina_seedance_40_pro",
	"seedance-2.0-pro":              "dreamina_seedance_40_pro",
	"jimeng-video-seedance-2.0-fast": "dreamina_seedance_40",
	"seedance-2.0-fast":             "dreamina_seedance_40",
}

const defaultInternalModel = "dreamina_ic_generate_video_model_vgfm_3.0"

// StandardThreeModel is the internal model name that an end-frame image
// forces onto any standard-family submission, regardless of the model
// the caller requested.
const StandardThreeModel = defaultInternalModel

// ResolveModel maps a user-facing model name to its internal jimeng key.
// Unknown names fall back to the standard 3.0 model rather than erroring,
// matching the upstream's own tolerant behavior.
func ResolveModel(model string) string {
	if internal, ok := modelMap[model]; ok {
		return internal
	}
	return defaultInternalModel
}

// ModelNames lists every user-facing model name this gateway accepts.
func ModelNames() []string {
	names := make([]string, 0, len(modelMap))
	for name := range modelMap {
		names = append(names, name)
	}
	return names
}

// DraftVersion returns the draft_content schema version for a model.
func DraftVersion(model string) string {
	switch model {
	case "jimeng-video-3.5-pro":
		return "3.3.4"
	case "jimeng-video-3.0-pro", "jimeng-video-3.0", "jimeng-video-2.0", "jimeng-video-2.0-pro":
		return "3.2.8"
	case "jimeng-video-seedance-2.0", "seedance-2.0", "seedance-2.0-pro",
		"jimeng-video-seedance-2.0-fast", "seedance-2.0-fast":
		return "3.3.9"
	default:
		return "3.2.8"
	}
}

// SeedanceBenefitType returns the benefit_type for a Seedance model.
func SeedanceBenefitType(model string) string {
	switch model {
	case "jimeng-video-seedance-2.0", "seedance-2.0", "seedance-2.0-pro":
		return "dreamina_video_seedance_20_pro"
	case "jimeng-video-seedance-2.0-fast", "seedance-2.0-fast":
		return "dreamina_seedance_20_fast"
	default:
		return "dreamina_video_seedance_20_pro"
	}
}

// IsSeedanceModel reports whether model belongs to the Seedance family,
// which submits through the signing oracle instead of a plain POST.
func IsSeedanceModel(model string) bool {
	return strings.HasPrefix(model, "seedance-") || strings.HasPrefix(model, "jimeng-video-seedance-")
}

// Resolution is a target video frame size in pixels.
type Resolution struct {
	Width  int
	Height int
}

var resolutionTable = map[[2]string]Resolution{
	{"480p", "1:1"}:   {480, 480},
	{"480p", "4:3"}:   {640, 480},
	{"480p", "3:4"}:   {480, 640},
	{"480p", "16:9"}:  {854, 480},
	{"480p", "9:16"}:  {480, 854},
	{"720p", "1:1"}:   {720, 720},
	{"720p", "4:3"}:   {960, 720},
	{"720p", "3:4"}:   {720, 960},
	{"720p", "16:9"}:  {1280, 720},
	{"720p", "9:16"}:  {720, 1280},
	{"1080p", "1:1"}:  {1080, 1080},
	{"1080p", "4:3"}:  {1440, 1080},
	{"1080p", "3:4"}:  {1080, 1440},
	{"1080p", "16:9"}: {1920, 1080},
	{"1080p", "9:16"}: {1080, 1920},
}

// ResolveVideoResolution looks up the pixel dimensions for a
// resolution/aspect-ratio pair. The upstream only accepts this fixed
// set of combinations.
func ResolveVideoResolution(resolution, ratio string) (Resolution, error) {
	r, ok := resolutionTable[[2]string{resolution, ratio}]
	if !ok {
		return Resolution{}, &UnsupportedResolutionError{Resolution: resolution, Ratio: ratio}
	}
	return r, nil
}

// UnsupportedResolutionError reports a resolution/ratio combination
// with no entry in the upstream's accepted table.
type UnsupportedResolutionError struct {
	Resolution string
	Ratio      string
}

func (e *UnsupportedResolutionError) Error() string {
	return "unsupported resolution/ratio: " + e.Resolution + "/" + e.Ratio
}

// MaterialType is the kind of file uploaded for a Seedance multi-modal
// submission.
type MaterialType int

const (
	MaterialImage MaterialType = iota
	MaterialVideo
	MaterialAudio
)

// Code returns the numeric code used in the upstream's materialTypes
// array.
func (m MaterialType) Code() int {
	switch m {
	case MaterialVideo:
		return 2
	case MaterialAudio:
		return 3
	default:
		return 1
	}
}

// String returns the name used in material_type / meta_type fields.
func (m MaterialType) String() string {
	switch m {
	case MaterialVideo:
		return "video"
	case MaterialAudio:
		return "audio"
	default:
		return "image"
	}
}

// DetectMaterialTypeFromMIME classifies an uploaded file by its MIME
// type, defaulting to image for anything unrecognized.
func DetectMaterialTypeFromMIME(mime string) MaterialType {
	mime = strings.ToLower(mime)
	switch {
	case strings.HasPrefix(mime, "video/"):
		return MaterialVideo
	case strings.HasPrefix(mime, "audio/"):
		return MaterialAudio
	default:
		return MaterialImage
	}
}

// UploadedMaterial is the result of uploading a single file, unified
// across the ImageX (image) and VOD (video/audio) upload paths.
type UploadedMaterial struct {
	MaterialType MaterialType
	URI          string // set for ImageX uploads
	VID          string // set for VOD uploads
	Width        int
	Height       int
	Duration     int
	FPS          int
	Name         string
}

func gcd(a, b int) int {
	if b == 0 {
		return a
	}
	return gcd(b, a%b)
}

// AspectRatioStr reduces width:height to its lowest terms, e.g. "16:9".
func AspectRatioStr(width, height int) string {
	d := gcd(width, height)
	if d == 0 {
		d = 1
	}
	return strconv.Itoa(width/d) + ":" + strconv.Itoa(height/d)
}
