package knowledge

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/aethrix-hub/assistant/internal/models"
	"github.com/aethrix-hub/assistant/pkg/jsonfile"
	"github.com/sirupsen/logrus"
)

// Data files maintained by the site's admin panel
const (
	ToolsFileName    = "tools.json"
	SettingsFileName = "settings.json"
)

// DefaultCategories is the catalogue used before the admin has saved tools.json
var DefaultCategories = []models.Category{
	{ID: "llm", Name: "大语言模型", Order: 1},
	{ID: "workflow", Name: "工作流平台", Order: 2},
	{ID: "txt2img", Name: "文生图", Order: 3},
	{ID: "txt2vid", Name: "文生视频", Order: 4},
	{ID: "img2x", Name: "图生图/视频", Order: 5},
	{ID: "onestop", Name: "一站式AI", Order: 6},
	{ID: "design", Name: "设计(UI/Logo)", Order: 7},
	{ID: "marketing", Name: "市场营销/电商", Order: 8},
	{ID: "coding", Name: "编程/运维", Order: 9},
	{ID: "crawler", Name: "爬虫/OSINT", Order: 10},
	{ID: "data", Name: "数据分析", Order: 11},
	{ID: "voice", Name: "声音克隆/TTS", Order: 12},
	{ID: "3d", Name: "Ai 3D建模", Order: 13},
	{ID: "frontend", Name: "前端资源站", Order: 14},
	{ID: "academic", Name: "学术论文", Order: 15},
}

// Store provides read access to the site content that grounds the prompt
type Store interface {
	ReadKnowledgeBase(ctx context.Context) (*models.KnowledgeBase, error)
	ReadSiteSettings(ctx context.Context) (*models.SiteSettings, error)
}

// FileStore reads tools.json and settings.json from the data directory on
// every call, so admin edits apply to the next message.
type FileStore struct {
	dir    string
	logger *logrus.Logger
}

// NewFileStore creates a store over dir
func NewFileStore(dir string, logger *logrus.Logger) *FileStore {
	return &FileStore{dir: dir, logger: logger}
}

// ReadKnowledgeBase returns the tool catalogue. The returned value is always
// usable: a missing file yields the default categories and an unreadable one
// yields an empty catalogue together with the error.
func (s *FileStore) ReadKnowledgeBase(ctx context.Context) (*models.KnowledgeBase, error) {
	path := filepath.Join(s.dir, ToolsFileName)

	var kb models.KnowledgeBase
	found, err := jsonfile.Read(path, &kb)
	if err != nil {
		s.logger.WithError(err).WithField("path", path).Warn("Knowledge base unreadable")
		return &models.KnowledgeBase{}, fmt.Errorf("failed to read knowledge base: %w", err)
	}
	if !found {
		return &models.KnowledgeBase{Categories: append([]models.Category(nil), DefaultCategories...)}, nil
	}
	if kb.Categories == nil {
		kb.Categories = append([]models.Category(nil), DefaultCategories...)
	}
	return &kb, nil
}

// ReadSiteSettings returns the homepage copy and assistant settings. Zero
// values are returned alongside any read error.
func (s *FileStore) ReadSiteSettings(ctx context.Context) (*models.SiteSettings, error) {
	path := filepath.Join(s.dir, SettingsFileName)

	var settings models.SiteSettings
	if _, err := jsonfile.Read(path, &settings); err != nil {
		s.logger.WithError(err).WithField("path", path).Warn("Site settings unreadable")
		return &models.SiteSettings{}, fmt.Errorf("failed to read site settings: %w", err)
	}
	return &settings, nil
}
