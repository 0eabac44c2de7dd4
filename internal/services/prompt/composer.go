package prompt

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/aethrix-hub/assistant/internal/models"
	"github.com/aethrix-hub/assistant/internal/services/knowledge"
	"github.com/sirupsen/logrus"
)

// MaxToolsPerCategory bounds the tool digest of each category
const MaxToolsPerCategory = 5

// DefaultPersona is the name the assistant introduces itself with
const DefaultPersona = "以太夜助手"

const defaultSiteName = "以太夜"

var systemTemplate = template.Must(template.New("system").Parse(
	`你是{{.Persona}}，一个温暖、有同理心的AI伙伴。
{{.Identity}}

## 你的性格特点
- 温柔体贴，像一个知心朋友
- 说话委婉，高情商，懂得照顾对方感受
- 幽默风趣，偶尔会开个小玩笑活跃气氛
- 真诚坦率，不会敷衍了事
- 善于倾听，会认真理解用户的真实需求

## 回答风格要求（非常重要）
- 绝对不要使用任何Markdown格式，包括：星号、井号、反引号、方括号、破折号列表等
- 用自然流畅的口语化表达，像朋友聊天一样
- 回答要有温度，让人感到被关心和理解
- 适当使用语气词，如"呢"、"哦"、"呀"等，让对话更亲切
- 可以用逗号、句号、问号、感叹号等标点，但不要用特殊符号
- 推荐工具时用自然的句子描述，不要用列表格式
- 如果用户表达情感（如"我喜欢你"），要温暖地回应，不要生硬地转移话题

## 关于{{.SiteName}}网站（你所在的平台）
网站名称：{{.SiteName}}
网站口号：{{.Slogan}}
网站简介：{{.Description}}
{{if .Notice}}当前公告：{{.Notice}}{{end}}

## 精选作品展示
{{.PortfolioTitle}}：{{.PortfolioSubtitle}}
作品列表：{{.PortfolioItems}}

## 专业服务
{{.ServicesTitle}}：{{.ServicesSubtitle}}
服务内容：{{.ServiceItems}}

## 关于站长
{{.AboutTitle}}：{{.AboutSubtitle}}
介绍：{{.AboutContent}}
成就：{{.AboutStats}}

## 联系方式
{{.Contact}}

## 你了解的AI工具分类
{{.Categories}}

## 部分热门工具
{{.Tools}}

## 特别提醒
- 当用户问候或闲聊时，热情友好地回应
- 当用户表达喜欢或感谢时，真诚地表示开心和感谢
- 当用户有困惑时，耐心地帮助分析和解答
- 当用户需要工具推荐时，根据需求自然地介绍合适的工具
- 当用户询问网站内容、作品、服务时，根据上面的知识库回答
- 回答要简洁有力，不要啰嗦，但也要有人情味`))

type promptData struct {
	Persona           string
	Identity          string
	SiteName          string
	Slogan            string
	Description       string
	Notice            string
	PortfolioTitle    string
	PortfolioSubtitle string
	PortfolioItems    string
	ServicesTitle     string
	ServicesSubtitle  string
	ServiceItems      string
	AboutTitle        string
	AboutSubtitle     string
	AboutContent      string
	AboutStats        string
	Contact           string
	Categories        string
	Tools             string
}

// Composer renders the system prompt from live site content
type Composer struct {
	store   knowledge.Store
	persona string
	logger  *logrus.Logger
}

// NewComposer creates a composer reading from store. An empty persona uses
// DefaultPersona.
func NewComposer(store knowledge.Store, persona string, logger *logrus.Logger) *Composer {
	if strings.TrimSpace(persona) == "" {
		persona = DefaultPersona
	}
	return &Composer{store: store, persona: persona, logger: logger}
}

// Compose returns override verbatim when it is not blank. Otherwise it renders
// the persona prompt from the knowledge base and site settings read fresh for
// this call. modelName, when set, adds the model identity sentence.
//
// An unavailable knowledge store degrades the prompt but never fails it.
func (c *Composer) Compose(ctx context.Context, override, modelName string) string {
	if strings.TrimSpace(override) != "" {
		return override
	}

	kb, err := c.store.ReadKnowledgeBase(ctx)
	if err != nil || kb == nil {
		c.logger.WithError(err).Warn("Composing prompt without knowledge base")
		kb = &models.KnowledgeBase{}
	}
	site, err := c.store.ReadSiteSettings(ctx)
	if err != nil || site == nil {
		c.logger.WithError(err).Warn("Composing prompt without site settings")
		site = &models.SiteSettings{}
	}

	data := promptData{
		Persona:           c.persona,
		Identity:          c.identity(modelName),
		SiteName:          orDefault(site.SiteName, defaultSiteName),
		Slogan:            site.Slogan,
		Description:       site.SEODescription,
		Notice:            site.Notice,
		PortfolioTitle:    orDefault(site.Portfolio.Title, "精选作品"),
		PortfolioSubtitle: site.Portfolio.Subtitle,
		PortfolioItems:    orDefault(showcaseDigest(site.Portfolio.Items), "暂无作品"),
		ServicesTitle:     orDefault(site.Services.Title, "专业服务"),
		ServicesSubtitle:  site.Services.Subtitle,
		ServiceItems:      orDefault(showcaseDigest(site.Services.Items), "暂无服务"),
		AboutTitle:        orDefault(site.About.Title, "关于我"),
		AboutSubtitle:     site.About.Subtitle,
		AboutContent:      site.About.Content,
		AboutStats:        statsDigest(site.About.Stats),
		Contact: fmt.Sprintf("邮箱：%s，电话/微信：%s，地址：%s",
			site.Footer.Email, site.Footer.Phone, site.Footer.Address),
		Categories: CategoryDigest(kb.Categories),
		Tools:      ToolDigest(kb.Categories, kb.Tools),
	}

	var b strings.Builder
	if err := systemTemplate.Execute(&b, data); err != nil {
		// only reachable with a broken template
		c.logger.WithError(err).Error("Failed to render system prompt")
		return fmt.Sprintf("你是%s，一个温暖、有同理心的AI伙伴。", c.persona)
	}
	return b.String()
}

func (c *Composer) identity(modelName string) string {
	if modelName == "" {
		return ""
	}
	return fmt.Sprintf("你的底层模型是 %s，但你的身份是%s。当用户问你是什么模型时，你可以说\"我是基于%s的%s\"。",
		modelName, c.persona, modelName, c.persona)
}

// CategoryDigest lists category names by ascending order, joined by 、
func CategoryDigest(categories []models.Category) string {
	sorted := sortedCategories(categories)
	names := make([]string, 0, len(sorted))
	for _, cat := range sorted {
		names = append(names, cat.Name)
	}
	return strings.Join(names, "、")
}

// ToolDigest renders up to MaxToolsPerCategory tools of every category as
// "<category>类：a、b", joined by ；. Categories without tools are omitted, as
// are tools whose category is unknown.
func ToolDigest(categories []models.Category, tools []models.Tool) string {
	byCategory := make(map[string][]models.Tool)
	for _, tool := range tools {
		byCategory[tool.Category] = append(byCategory[tool.Category], tool)
	}

	parts := make([]string, 0, len(categories))
	for _, cat := range sortedCategories(categories) {
		group := byCategory[cat.ID]
		if len(group) == 0 {
			continue
		}
		sort.SliceStable(group, func(i, j int) bool { return group[i].Order < group[j].Order })
		if len(group) > MaxToolsPerCategory {
			group = group[:MaxToolsPerCategory]
		}

		titles := make([]string, len(group))
		for i, tool := range group {
			titles[i] = tool.Title
		}
		parts = append(parts, fmt.Sprintf("%s类：%s", cat.Name, strings.Join(titles, "、")))
	}
	return strings.Join(parts, "；")
}

func sortedCategories(categories []models.Category) []models.Category {
	sorted := append([]models.Category(nil), categories...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })
	return sorted
}

func showcaseDigest(items []models.ShowcaseItem) string {
	parts := make([]string, len(items))
	for i, item := range items {
		parts[i] = item.Title + "：" + item.Description
	}
	return strings.Join(parts, "；")
}

func statsDigest(stats []models.Stat) string {
	parts := make([]string, len(stats))
	for i, s := range stats {
		parts[i] = s.Label + "：" + s.Value
	}
	return strings.Join(parts, "，")
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
