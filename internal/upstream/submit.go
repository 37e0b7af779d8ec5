package upstream

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// SubmitResult is returned once a draft has been accepted upstream.
type SubmitResult struct {
	HistoryRecordID string
}

func randomUint32(maxExclusive uint32) uint32 {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(maxExclusive)))
	if err != nil {
		return 0
	}
	return uint32(n.Int64())
}

// SubmitRegularVideo submits a standard-family (non-Seedance) video
// generation draft over a plain signed POST.
func (c *Client) SubmitRegularVideo(ctx context.Context, sessionToken, prompt, modelName string, width, height, duration int, resolution string, firstFrameURI, endFrameURI string) (*SubmitResult, error) {
	internalModel := ResolveModel(modelName)
	draftVersion := DraftVersion(modelName)
	aspectRatio := AspectRatioStr(width, height)

	componentID := uuid.New().String()
	submitID := uuid.New().String()

	metricsExtra := mustJSON(map[string]any{
		"enterFrom":      "click",
		"isDefaultSeed":  1,
		"promptSource":   "custom",
		"isRegenerate":   false,
		"originSubmitId": submitID,
	})

	var firstFrame, endFrame any
	if firstFrameURI != "" {
		firstFrame = frameImage(firstFrameURI, width, height)
	}
	rootModel := internalModel
	if endFrameURI != "" {
		endFrame = frameImage(endFrameURI, width, height)
		rootModel = StandardThreeModel
	}

	videoGenInput := map[string]any{
		"duration_ms":       duration * 1000,
		"fps":               24,
		"id":                uuid.New().String(),
		"min_version":       "3.0.5",
		"prompt":            prompt,
		"resolution":        resolution,
		"type":              "",
		"video_mode":        2,
		"first_frame_image": firstFrame,
		"end_frame_image":   endFrame,
	}

	draftContent := map[string]any{
		"type":               "draft",
		"id":                 uuid.New().String(),
		"min_version":        "3.0.5",
		"is_from_tsn":        true,
		"version":            draftVersion,
		"main_component_id":  componentID,
		"component_list": []any{map[string]any{
			"type":        "video_base_component",
			"id":          componentID,
			"min_version": "1.0.0",
			"metadata": map[string]any{
				"type":                     "",
				"id":                       uuid.New().String(),
				"created_platform":         3,
				"created_platform_version": "",
				"created_time_in_ms":       time.Now().UnixMilli(),
				"created_did":              "",
			},
			"generate_type": "gen_video",
			"aigc_mode":     "workbench",
			"abilities": map[string]any{
				"type": "",
				"id":   uuid.New().String(),
				"gen_video": map[string]any{
					"id":   uuid.New().String(),
					"type": "",
					"text_to_video_params": map[string]any{
						"type":              "",
						"id":                uuid.New().String(),
						"model_req_key":     internalModel,
						"priority":          0,
						"seed":              int64(randomUint32(100000000)) + 2500000000,
						"video_aspect_ratio": aspectRatio,
						"video_gen_inputs":  []any{videoGenInput},
					},
					"video_task_extra": metricsExtra,
				},
			},
		}},
	}

	commerceInfo := map[string]any{
		"benefit_type":      "basic_video_operation_vgfm_v_three",
		"resource_id":       "generate_video",
		"resource_id_type":  "str",
		"resource_sub_type": "aigc",
	}

	body := map[string]any{
		"extend": map[string]any{
			"root_model":                 rootModel,
			"m_video_commerce_info":      commerceInfo,
			"m_video_commerce_info_list": []any{commerceInfo},
		},
		"submit_id":      submitID,
		"metrics_extra":  metricsExtra,
		"draft_content":  mustJSON(draftContent),
		"http_common_info": map[string]any{
			"aid": defaultAssistantID,
		},
	}

	uri := "/mweb/v1/aigc_draft/generate"
	params := standardQueryParams()
	params.Set("da_version", draftVersion)

	resp, err := c.post(ctx, jimengBase+uri, uri, sessionToken, params, mustJSON(body))
	if err != nil {
		return nil, fmt.Errorf("submit regular video: %w", err)
	}
	return parseSubmitResponse(resp)
}

func frameImage(uri string, width, height int) map[string]any {
	return map[string]any{
		"format":        "",
		"height":        height,
		"id":            uuid.New().String(),
		"image_uri":     uri,
		"name":          "",
		"platform_type": 1,
		"source_from":   "upload",
		"type":          "image",
		"uri":           uri,
		"width":         width,
	}
}

// SubmitSeedanceVideo submits a Seedance multi-modal draft through the
// signing oracle, which proxies it in a context that can produce the
// upstream's anti-bot a_bogus signature.
func (c *Client) SubmitSeedanceVideo(ctx context.Context, sessionToken, prompt, modelName string, width, height, duration int, materials []UploadedMaterial) (*SubmitResult, error) {
	if c.oracle == nil {
		return nil, fmt.Errorf("seedance submission requires a configured signing oracle")
	}

	internalModel := ResolveModel(modelName)
	benefitType := SeedanceBenefitType(modelName)
	draftVersion := DraftVersion(modelName)
	aspectRatio := AspectRatioStr(width, height)

	hasVideo := false
	for _, m := range materials {
		if m.MaterialType == MaterialVideo {
			hasVideo = true
			break
		}
	}
	finalBenefitType := benefitType
	if hasVideo {
		finalBenefitType = benefitType + "_with_video"
	}

	materialList := make([]any, 0, len(materials))
	for _, mat := range materials {
		materialList = append(materialList, buildMaterialEntry(mat))
	}
	metaList := buildMetaList(prompt, materials)

	componentID := uuid.New().String()
	submitID := uuid.New().String()

	codeSet := map[int]struct{}{}
	for _, m := range materials {
		codeSet[m.MaterialType.Code()] = struct{}{}
	}
	materialTypeCodes := make([]int, 0, len(codeSet))
	for code := range codeSet {
		materialTypeCodes = append(materialTypeCodes, code)
	}

	sceneOptions := mustJSON([]any{map[string]any{
		"type":          "video",
		"scene":         "BasicVideoGenerateButton",
		"modelReqKey":   internalModel,
		"videoDuration": duration,
		"reportParams": map[string]any{
			"enterSource":                       "generate",
			"vipSource":                         "generate",
			"extraVipFunctionKey":               internalModel,
			"useVipFunctionDetailsReporterHoc": true,
		},
		"materialTypes": materialTypeCodes,
	}})

	metricsExtra := mustJSON(map[string]any{
		"isDefaultSeed":  1,
		"originSubmitId": submitID,
		"isRegenerate":   false,
		"enterFrom":      "click",
		"position":       "page_bottom_box",
		"functionMode":   "omni_reference",
		"sceneOptions":   sceneOptions,
	})

	draftContent := map[string]any{
		"type":              "draft",
		"id":                uuid.New().String(),
		"min_version":       draftVersion,
		"min_features":      []any{"AIGC_Video_UnifiedEdit"},
		"is_from_tsn":       true,
		"version":           draftVersion,
		"main_component_id": componentID,
		"component_list": []any{map[string]any{
			"type":        "video_base_component",
			"id":          componentID,
			"min_version": "1.0.0",
			"aigc_mode":   "workbench",
			"metadata": map[string]any{
				"type":                     "",
				"id":                       uuid.New().String(),
				"created_platform":         3,
				"created_platform_version": "",
				"created_time_in_ms":       strconv.FormatInt(time.Now().UnixMilli(), 10),
				"created_did":              "",
			},
			"generate_type": "gen_video",
			"abilities": map[string]any{
				"type": "",
				"id":   uuid.New().String(),
				"gen_video": map[string]any{
					"type": "",
					"id":   uuid.New().String(),
					"text_to_video_params": map[string]any{
						"type": "",
						"id":   uuid.New().String(),
						"video_gen_inputs": []any{map[string]any{
							"type":            "",
							"id":              uuid.New().String(),
							"min_version":     draftVersion,
							"prompt":          "",
							"video_mode":      2,
							"fps":             24,
							"duration_ms":     duration * 1000,
							"idip_meta_list":  []any{},
							"unified_edit_input": map[string]any{
								"type":          "",
								"id":            uuid.New().String(),
								"material_list": materialList,
								"meta_list":     metaList,
							},
						}},
						"video_aspect_ratio": aspectRatio,
						"seed":               randomUint32(1000000000),
						"model_req_key":      internalModel,
						"priority":           0,
					},
					"video_task_extra": metricsExtra,
				},
			},
			"process_type": 1,
		}},
	}

	commerceInfo := map[string]any{
		"benefit_type":      finalBenefitType,
		"resource_id":       "generate_video",
		"resource_id_type":  "str",
		"resource_sub_type": "aigc",
	}

	body := map[string]any{
		"extend": map[string]any{
			"root_model":                 internalModel,
			"m_video_commerce_info":      commerceInfo,
			"m_video_commerce_info_list": []any{commerceInfo},
		},
		"submit_id":         submitID,
		"metrics_extra":     metricsExtra,
		"draft_content":     mustJSON(draftContent),
		"http_common_info":  map[string]any{"aid": defaultAssistantID},
	}

	params := standardQueryParams()
	params.Set("da_version", draftVersion)
	url := jimengBase + "/mweb/v1/aigc_draft/generate?" + params.Encode()

	resultText, err := c.oracle.Fetch(ctx, sessionToken, url, mustJSON(body))
	if err != nil {
		return nil, fmt.Errorf("submit seedance video: %w", err)
	}
	return parseSeedanceSubmitResponse([]byte(resultText))
}

func buildMaterialEntry(mat UploadedMaterial) map[string]any {
	baseID := uuid.New().String()
	switch mat.MaterialType {
	case MaterialVideo:
		return map[string]any{
			"type":          "",
			"id":            baseID,
			"material_type": "video",
			"video_info": map[string]any{
				"type":        "video",
				"id":          uuid.New().String(),
				"source_from": "upload",
				"name":        mat.Name,
				"vid":         mat.VID,
				"fps":         mat.FPS,
				"width":       mat.Width,
				"height":      mat.Height,
				"duration":    mat.Duration,
			},
		}
	case MaterialAudio:
		return map[string]any{
			"type":          "",
			"id":            baseID,
			"material_type": "audio",
			"audio_info": map[string]any{
				"type":        "audio",
				"id":          uuid.New().String(),
				"source_from": "upload",
				"vid":         mat.VID,
				"duration":    mat.Duration,
				"name":        mat.Name,
			},
		}
	default:
		return map[string]any{
			"type":          "",
			"id":            baseID,
			"material_type": "image",
			"image_info": map[string]any{
				"type":        "image",
				"id":          uuid.New().String(),
				"source_from": "upload",
				"platform_type": 1,
				"name":        "",
				"image_uri":   mat.URI,
				"aigc_image":  map[string]any{"type": "", "id": uuid.New().String()},
				"width":       mat.Width,
				"height":      mat.Height,
				"format":      "",
				"uri":         mat.URI,
			},
		}
	}
}

var metaPlaceholderRe = regexp.MustCompile(`@(?:图|image)?(\d+)`)

// buildMetaList interleaves prompt text with material references by
// scanning @<n> / @图<n> / @image<n> placeholders (1-based). Absent any
// placeholder it falls back to a default "使用 <materials> 素材，<prompt>"
// interleaving so every uploaded material is still referenced.
func buildMetaList(prompt string, materials []UploadedMaterial) []any {
	metaList := make([]any, 0)
	materialCount := len(materials)

	matches := metaPlaceholderRe.FindAllStringSubmatchIndex(prompt, -1)
	lastEnd := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		if start > lastEnd {
			text := prompt[lastEnd:start]
			if strings.TrimSpace(text) != "" {
				metaList = append(metaList, map[string]any{"meta_type": "text", "text": text})
			}
		}
		numStr := prompt[m[2]:m[3]]
		idx, err := strconv.Atoi(numStr)
		if err != nil {
			idx = 1
		}
		materialIdx := idx - 1
		if materialIdx >= 0 && materialIdx < materialCount {
			metaList = append(metaList, map[string]any{
				"meta_type":   materials[materialIdx].MaterialType.String(),
				"text":        "",
				"material_ref": map[string]any{"material_idx": materialIdx},
			})
		}
		lastEnd = end
	}
	if lastEnd < len(prompt) {
		text := prompt[lastEnd:]
		if strings.TrimSpace(text) != "" {
			metaList = append(metaList, map[string]any{"meta_type": "text", "text": text})
		}
	}

	if len(matches) == 0 || len(metaList) == 0 {
		metaList = []any{map[string]any{"meta_type": "text", "text": "使用"}}
		for i, mat := range materials {
			metaList = append(metaList, map[string]any{
				"meta_type":   mat.MaterialType.String(),
				"text":        "",
				"material_ref": map[string]any{"material_idx": i},
			})
			if i < materialCount-1 {
				metaList = append(metaList, map[string]any{"meta_type": "text", "text": "和"})
			}
		}
		if strings.TrimSpace(prompt) != "" {
			metaList = append(metaList, map[string]any{"meta_type": "text", "text": "素材，" + prompt})
		} else {
			metaList = append(metaList, map[string]any{"meta_type": "text", "text": "素材生成视频"})
		}
	}

	return metaList
}

// parseSubmitResponse extracts history_record_id from a standard
// (non-Seedance) submit response, trying nesting depths in the order
// the standard endpoint actually produces them.
func parseSubmitResponse(body []byte) (*SubmitResult, error) {
	return parseSubmitResponseWithOrder(body, []string{
		"data.aigc_data.history_record_id",
		"data.history_record_id",
		"aigc_data.history_record_id",
	})
}

// parseSeedanceSubmitResponse extracts history_record_id from a
// Seedance submit response. Seedance favors the top-level aigc_data
// fallback over data.history_record_id, the reverse of the standard
// family's precedence.
func parseSeedanceSubmitResponse(body []byte) (*SubmitResult, error) {
	return parseSubmitResponseWithOrder(body, []string{
		"data.aigc_data.history_record_id",
		"aigc_data.history_record_id",
		"data.history_record_id",
	})
}

func parseSubmitResponseWithOrder(body []byte, paths []string) (*SubmitResult, error) {
	payload := gjson.ParseBytes(body)

	if ret := payload.Get("ret"); ret.Exists() {
		retNum := ret.Int()
		if retNum != 0 {
			errmsg := payload.Get("errmsg").String()
			if errmsg == "" {
				errmsg = "unknown"
			}
			return nil, fmt.Errorf("submit failed [ret=%d]: %s", retNum, errmsg)
		}
	}

	for _, path := range paths {
		if v := payload.Get(path); v.Exists() && v.Type != gjson.Null {
			if v.Type == gjson.String {
				return &SubmitResult{HistoryRecordID: v.String()}, nil
			}
			return &SubmitResult{HistoryRecordID: strconv.FormatInt(v.Int(), 10)}, nil
		}
	}
	return nil, fmt.Errorf("no history_record_id in submit response: %s", truncate(body, 500))
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}
