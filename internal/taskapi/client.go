package taskapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"settlement/internal/config"
)

// 第三方工作流任务接口客户端
// 任务由上游提交接口创建，这里只负责查询执行状态，
// 由 TaskMonitor 轮询直到终态

// 第三方任务状态枚举
const (
	JobStateRunning = "RUNNING"
	JobStateQueued  = "QUEUED"
	JobStateSuccess = "SUCCESS"
	JobStateFailed  = "FAILED"
)

// JobStatus 任务状态查询结果
type JobStatus struct {
	JobID     string `json:"job_id"`
	State     string `json:"state"`
	OutputURL string `json:"output_url"`
	Error     string `json:"error"`
}

type Client struct {
	cfg        *config.TaskAPIConfig
	httpClient *http.Client
}

func NewClient(cfg *config.TaskAPIConfig) *Client {
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
	}
}

// QueryJob 查询任务执行状态
func (c *Client) QueryJob(ctx context.Context, jobID string) (*JobStatus, error) {
	url := fmt.Sprintf("%s/api/v1/jobs/%s", c.cfg.BaseURL, jobID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("请求任务接口失败: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取任务接口响应失败: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("任务接口返回异常: status=%d, body=%s", resp.StatusCode, string(body))
	}

	status := &JobStatus{}
	if err := json.Unmarshal(body, status); err != nil {
		return nil, fmt.Errorf("解析任务状态失败: %w", err)
	}

	return status, nil
}
