package capability

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/harun/mosaic/pkg/storage"
	"github.com/rs/zerolog/log"
)

// videoJob is the Sora job resource.
type videoJob struct {
	ID       string `json:"id"`
	Status   string `json:"status"` // queued, in_progress, completed, failed
	Progress int    `json:"progress"`
	Error    *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type videoCreateParams struct {
	Model   string `json:"model"`
	Prompt  string `json:"prompt"`
	Seconds string `json:"seconds,omitempty"`
	Size    string `json:"size,omitempty"`
}

type videoRemixParams struct {
	Prompt string `json:"prompt"`
}

// VideoGenerate starts a Sora job, waits for it and stores the MP4.
func (p *OpenAI) VideoGenerate(ctx context.Context, req VideoRequest) (Video, error) {
	params := videoCreateParams{
		Model:  p.models.Video,
		Prompt: req.Prompt,
		Size:   req.Size,
	}
	if req.Seconds > 0 {
		params.Seconds = strconv.Itoa(req.Seconds)
	}

	var job videoJob
	if err := p.client.Post(ctx, "videos", params, &job); err != nil {
		return Video{}, err
	}
	return p.finishVideo(ctx, job)
}

// VideoRemix derives a new video from a finished job.
func (p *OpenAI) VideoRemix(ctx context.Context, base Video, req VideoRequest) (Video, error) {
	if base.JobID == "" {
		return Video{}, fmt.Errorf("remix requires a source job id")
	}

	var job videoJob
	if err := p.client.Post(ctx, "videos/"+base.JobID+"/remix", videoRemixParams{Prompt: req.Prompt}, &job); err != nil {
		return Video{}, err
	}
	return p.finishVideo(ctx, job)
}

func (p *OpenAI) finishVideo(ctx context.Context, job videoJob) (Video, error) {
	if job.ID == "" {
		return Video{}, fmt.Errorf("video job has no id")
	}

	job, err := p.waitVideo(ctx, job)
	if err != nil {
		return Video{}, err
	}

	var data []byte
	if err := p.client.Get(ctx, "videos/"+job.ID+"/content", nil, &data); err != nil {
		return Video{}, fmt.Errorf("failed to download video %s: %w", job.ID, err)
	}
	if len(data) == 0 {
		return Video{}, fmt.Errorf("video %s has no content", job.ID)
	}

	asset, err := p.assets.Put(ctx, storage.KindVideo, "mp4", bytes.NewReader(data))
	if err != nil {
		return Video{}, err
	}
	return Video{JobID: job.ID, Asset: asset}, nil
}

// waitVideo polls the job until it completes, fails or ctx expires.
func (p *OpenAI) waitVideo(ctx context.Context, job videoJob) (videoJob, error) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		switch job.Status {
		case "completed":
			return job, nil
		case "failed", "cancelled":
			msg := "unknown error"
			if job.Error != nil && job.Error.Message != "" {
				msg = job.Error.Message
			}
			return job, fmt.Errorf("video job %s failed: %s", job.ID, msg)
		}

		select {
		case <-ctx.Done():
			return job, fmt.Errorf("video job %s did not finish: %w", job.ID, ctx.Err())
		case <-ticker.C:
		}

		var next videoJob
		if err := p.client.Get(ctx, "videos/"+job.ID, nil, &next); err != nil {
			return job, fmt.Errorf("failed to poll video %s: %w", job.ID, err)
		}
		if next.ID == "" {
			next.ID = job.ID
		}
		job = next

		log.Debug().
			Str("job_id", job.ID).
			Str("status", job.Status).
			Int("progress", job.Progress).
			Msg("Video job polled")
	}
}
