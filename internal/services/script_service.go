// internal/services/script_service.go
package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/Sardonyx-Labs/NewsSatireStudio/internal/errors"
	"github.com/Sardonyx-Labs/NewsSatireStudio/internal/models"
	"github.com/Sardonyx-Labs/NewsSatireStudio/internal/storage"
	"github.com/Sardonyx-Labs/NewsSatireStudio/internal/utils"
)

const scriptsDir = "scripts"

// GenerateRequest 一次脚本生成请求
type GenerateRequest struct {
	Topic    string           `json:"topic"`
	Articles []models.Article `json:"articles,omitempty"` // 为空时由侦察服务抓取
	Limit    int              `json:"limit,omitempty"`
}

// ScriptService 串联侦察、生成、校验和存档的完整流水线
type ScriptService struct {
	producer   *ProducerService
	satirist   *SatiristService
	scout      *ScoutService
	progress   *ProgressService
	stats      *StatsService
	llmService *LLMService
	storage    *storage.FileStorage
	logger     *utils.Logger
}

// NewScriptService 创建脚本流水线服务
func NewScriptService(
	producer *ProducerService,
	satirist *SatiristService,
	scout *ScoutService,
	progress *ProgressService,
	stats *StatsService,
	llmService *LLMService,
	fileStorage *storage.FileStorage,
) *ScriptService {
	return &ScriptService{
		producer:   producer,
		satirist:   satirist,
		scout:      scout,
		progress:   progress,
		stats:      stats,
		llmService: llmService,
		storage:    fileStorage,
		logger:     utils.GetLogger(),
	}
}

// GenerateScript 同步执行一次完整的生成流程并存档结果
func (s *ScriptService) GenerateScript(ctx context.Context, req GenerateRequest) (*models.ScriptRecord, error) {
	if strings.TrimSpace(req.Topic) == "" && len(req.Articles) == 0 {
		return nil, apperrors.NewValidationError("必须提供主题或新闻素材", nil)
	}

	runID := uuid.New().String()
	return s.run(ctx, runID, req)
}

// GenerateScriptAsync 异步执行生成流程，立即返回任务ID
// 进度通过ProgressService推送，结果写入存档
func (s *ScriptService) GenerateScriptAsync(req GenerateRequest) (string, error) {
	if strings.TrimSpace(req.Topic) == "" && len(req.Articles) == 0 {
		return "", apperrors.NewValidationError("必须提供主题或新闻素材", nil)
	}

	runID := uuid.New().String()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()

		if _, err := s.run(ctx, runID, req); err != nil {
			s.logger.Error("异步生成任务失败", map[string]interface{}{
				"run_id": runID,
				"error":  err.Error(),
			})
		}
	}()

	return runID, nil
}

// run 执行流水线：抓素材 -> 生成+校验+重试 -> 存档
func (s *ScriptService) run(ctx context.Context, runID string, req GenerateRequest) (*models.ScriptRecord, error) {
	tracker := s.progress.CreateTracker(runID)

	articles := req.Articles
	if len(articles) == 0 {
		tracker.UpdateProgress(10, 0, "正在抓取新闻头条...")
		fetched, err := s.scout.FetchHeadlines(ctx, req.Topic, req.Limit)
		if err != nil {
			// 保留原始错误分类，只补充流水线上下文
			err = apperrors.WrapError(err, "抓取新闻头条失败", apperrors.ErrorTypeError)
			tracker.Fail(err.Error())
			return nil, err
		}
		if len(fetched) == 0 {
			err := apperrors.NewNotFoundError(
				fmt.Sprintf("没有找到关于 %s 的可用头条", req.Topic), nil)
			tracker.Fail(err.Error())
			return nil, err
		}
		articles = fetched
	}

	tracker.UpdateProgress(30, 1, "正在生成讽刺脚本...")

	tokensBefore := s.llmService.TotalTokensUsed()
	result, err := s.producer.Produce(ctx, s.satirist.GeneratorFor(articles))
	if err != nil {
		// 只有上下文取消会走到这里
		tracker.Fail(err.Error())
		return nil, err
	}

	tracker.UpdateProgress(90, result.Attempts, "正在存档脚本...")

	record := &models.ScriptRecord{
		ID:          runID,
		Topic:       req.Topic,
		Script:      result.Script,
		IsFallback:  result.IsFallback,
		Attempts:    result.Attempts,
		Provider:    s.llmService.GetProviderName(),
		Model:       s.llmService.GetDefaultModel(),
		TokensUsed:  int(s.llmService.TotalTokensUsed() - tokensBefore),
		CreatedAt:   time.Now(),
		ElapsedMS:   result.ElapsedMS,
		LastFailure: result.LastFailure,
	}

	if err := s.storage.SaveJSONFile(scriptsDir, record.ID+".json", record); err != nil {
		tracker.Fail(err.Error())
		return nil, apperrors.NewProcessingError("脚本存档失败", err)
	}

	// 同步和异步路径都在这里计入统计
	if s.stats != nil {
		if err := s.stats.RecordRun(record.TokensUsed, record.IsFallback); err != nil {
			s.logger.Warn("记录运行统计失败", map[string]interface{}{
				"run_id": runID,
				"error":  err.Error(),
			})
		}
	}

	if result.IsFallback {
		tracker.Complete("重试耗尽，已返回兜底脚本")
	} else {
		tracker.Complete("脚本生成完成")
	}

	return record, nil
}

// GetScript 读取一份存档记录
func (s *ScriptService) GetScript(id string) (*models.ScriptRecord, error) {
	if !s.storage.FileExists(scriptsDir, id+".json") {
		return nil, apperrors.NewNotFoundError(
			fmt.Sprintf("脚本不存在: %s", id), nil)
	}

	var record models.ScriptRecord
	if err := s.storage.LoadJSONFile(scriptsDir, id+".json", &record); err != nil {
		return nil, apperrors.NewProcessingError("读取脚本存档失败", err)
	}

	return &record, nil
}

// ListScripts 列出所有存档记录，按创建时间倒序
func (s *ScriptService) ListScripts() ([]*models.ScriptRecord, error) {
	files, err := s.storage.ListFiles(scriptsDir, ".json")
	if err != nil {
		return nil, apperrors.NewProcessingError("列出脚本存档失败", err)
	}

	records := make([]*models.ScriptRecord, 0, len(files))
	for _, file := range files {
		var record models.ScriptRecord
		if err := s.storage.LoadJSONFile(scriptsDir, file, &record); err != nil {
			s.logger.Warn("跳过损坏的存档文件", map[string]interface{}{
				"file":  file,
				"error": err.Error(),
			})
			continue
		}
		records = append(records, &record)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})

	return records, nil
}

// DeleteScript 删除一份存档记录
func (s *ScriptService) DeleteScript(id string) error {
	if !s.storage.FileExists(scriptsDir, id+".json") {
		return apperrors.NewNotFoundError(
			fmt.Sprintf("脚本不存在: %s", id), nil)
	}

	if err := s.storage.DeleteFile(scriptsDir, id+".json"); err != nil {
		return apperrors.NewProcessingError("删除脚本存档失败", err)
	}

	return nil
}
