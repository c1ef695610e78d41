package jimeng

import (
	"context"
	"fmt"
	"strings"

	"genflow/internal/domain"
	"genflow/internal/status"
)

type historyRecord struct {
	Status             int           `json:"status"`
	FailCode           flexString    `json:"fail_code"`
	TotalImageCount    int           `json:"total_image_count"`
	FinishedImageCount int           `json:"finished_image_count"`
	ItemList           []historyItem `json:"item_list"`
}

type historyItem struct {
	Image *struct {
		LargeImages []mediaRef `json:"large_images"`
	} `json:"image,omitempty"`
	Video *struct {
		TranscodedVideo struct {
			Origin mediaRef `json:"origin"`
		} `json:"transcoded_video"`
	} `json:"video,omitempty"`
	CommonAttr struct {
		CoverURL string `json:"cover_url"`
	} `json:"common_attr"`
}

type mediaRef struct {
	ImageURL string `json:"image_url"`
	VideoURL string `json:"video_url"`
	Format   string `json:"format"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

type videoTasksResponse struct {
	TaskMap map[string]historyRecord `json:"task_map"`
}

// FetchStatus queries a single task, routing by the shape of its id.
func (c *Client) FetchStatus(ctx context.Context, taskID string) (status.RawStatus, error) {
	kind, ok := domain.KindOf(taskID)
	if !ok {
		return status.RawStatus{}, fmt.Errorf("jimeng: fetch %q: %w", taskID, domain.ErrInvalidTaskID)
	}
	var (
		raw map[string]status.RawStatus
		err error
	)
	if kind == domain.TaskKindVideo {
		raw, err = c.QueryVideos(ctx, []string{taskID})
	} else {
		raw, err = c.QueryImages(ctx, []string{taskID})
	}
	if err != nil {
		return status.RawStatus{}, err
	}
	rs, ok := raw[taskID]
	if !ok {
		return status.RawStatus{}, fmt.Errorf("jimeng: fetch %s: %w", taskID, domain.ErrRecordNotFound)
	}
	return rs, nil
}

// QueryImages fetches image generation records in one grouped call.
func (c *Client) QueryImages(ctx context.Context, taskIDs []string) (map[string]status.RawStatus, error) {
	var records map[string]historyRecord
	payload := map[string]any{"history_ids": taskIDs}
	if err := c.postJSON(ctx, pathHistoryByIDs, payload, &records); err != nil {
		return nil, fmt.Errorf("jimeng: query images: %w", err)
	}
	return toRawStatuses(records), nil
}

// QueryVideos fetches video generation tasks in one grouped call.
func (c *Client) QueryVideos(ctx context.Context, taskIDs []string) (map[string]status.RawStatus, error) {
	var resp videoTasksResponse
	payload := map[string]any{"task_id_list": taskIDs}
	if err := c.postJSON(ctx, pathVideoTasks, payload, &resp); err != nil {
		return nil, fmt.Errorf("jimeng: query videos: %w", err)
	}
	return toRawStatuses(resp.TaskMap), nil
}

func toRawStatuses(records map[string]historyRecord) map[string]status.RawStatus {
	out := make(map[string]status.RawStatus, len(records))
	for id, rec := range records {
		out[id] = rec.toRaw(id)
	}
	return out
}

func (r historyRecord) toRaw(taskID string) status.RawStatus {
	raw := status.RawStatus{
		TaskID:        taskID,
		Code:          r.Status,
		FailCode:      strings.TrimSpace(string(r.FailCode)),
		TotalCount:    r.TotalImageCount,
		FinishedCount: r.FinishedImageCount,
	}
	for _, item := range r.ItemList {
		if ri, ok := item.toRaw(); ok {
			raw.Items = append(raw.Items, ri)
		}
	}
	return raw
}

func (i historyItem) toRaw() (status.RawItem, bool) {
	switch {
	case i.Video != nil && i.Video.TranscodedVideo.Origin.VideoURL != "":
		o := i.Video.TranscodedVideo.Origin
		return status.RawItem{URL: o.VideoURL, Format: firstNonEmpty(o.Format, "mp4"), Width: o.Width, Height: o.Height}, true
	case i.Image != nil && len(i.Image.LargeImages) > 0:
		img := i.Image.LargeImages[0]
		return status.RawItem{URL: img.ImageURL, Format: img.Format, Width: img.Width, Height: img.Height}, true
	case i.CommonAttr.CoverURL != "":
		return status.RawItem{URL: i.CommonAttr.CoverURL}, true
	}
	return status.RawItem{}, false
}
