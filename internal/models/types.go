package models

// GlobalUserKey is the rotation ledger key used for anonymous traffic
const GlobalUserKey = "_global"

// Message roles
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a role/content pair sent to the upstream chat endpoint
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatMessage is one persisted transcript entry. Immutable once written.
type ChatMessage struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"` // epoch millis
}

// Transcript is the ordered message log of a single user
type Transcript struct {
	Messages    []ChatMessage `json:"messages"`
	LastUpdated int64         `json:"lastUpdated"`
	SessionID   string        `json:"sessionId"`
}

// UserRotation is the per-user model assignment
type UserRotation struct {
	ModelIndex int   `json:"modelIndex"`
	UsageCount int   `json:"usageCount"`
	LastUsed   int64 `json:"lastUsed,omitempty"` // epoch millis, 0 when unknown
}

// RotationState is the persisted rotation ledger
type RotationState struct {
	CurrentModelIndex int                     `json:"currentModelIndex"`
	UsageCount        int                     `json:"usageCount"`
	Users             map[string]UserRotation `json:"users"`
}

// NewRotationState returns an empty ledger
func NewRotationState() *RotationState {
	return &RotationState{Users: make(map[string]UserRotation)}
}

// Category is a tool category in the site catalogue
type Category struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Order int    `json:"order"`
}

// Tool is a catalogue entry
type Tool struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Category string `json:"category"`
	Order    int    `json:"order"`
}

// KnowledgeBase is the snapshot of the tool catalogue used to ground the prompt
type KnowledgeBase struct {
	Categories []Category `json:"categories"`
	Tools      []Tool     `json:"tools"`
}

// ShowcaseItem is a titled entry of the portfolio or services sections
type ShowcaseItem struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// ShowcaseSection is the portfolio/services block of the homepage
type ShowcaseSection struct {
	Title    string         `json:"title"`
	Subtitle string         `json:"subtitle"`
	Items    []ShowcaseItem `json:"items"`
}

// Stat is a label/value pair of the about section
type Stat struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// AboutSection is the "about me" block of the homepage
type AboutSection struct {
	Title    string `json:"title"`
	Subtitle string `json:"subtitle"`
	Content  string `json:"content"`
	Stats    []Stat `json:"stats"`
}

// FooterInfo holds the site contact details
type FooterInfo struct {
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

// SiteSettings mirrors the parts of settings.json the assistant reads
type SiteSettings struct {
	SiteName       string          `json:"siteName"`
	Slogan         string          `json:"slogan"`
	SEODescription string          `json:"seoDescription"`
	Notice         string          `json:"notice"`
	Portfolio      ShowcaseSection `json:"portfolio"`
	Services       ShowcaseSection `json:"services"`
	About          AboutSection    `json:"about"`
	Footer         FooterInfo      `json:"footer"`
	AIAssistant    AiSettings      `json:"aiAssistant"`
}

// AiSettings configures the chat assistant. Enabled is a pointer because an
// absent value means enabled.
type AiSettings struct {
	Enabled            *bool    `json:"enabled,omitempty"`
	ModelName          string   `json:"modelName"`
	SavedModels        []string `json:"savedModels,omitempty"`
	AutoSwitch         bool     `json:"autoSwitch"`
	APIKey             string   `json:"apiKey"`
	APIEndpoint        string   `json:"apiEndpoint"`
	SystemPrompt       string   `json:"systemPrompt"`
	MaxHistoryMessages int      `json:"maxHistoryMessages"`
	Timeout            int      `json:"timeout"` // milliseconds
}

// IsEnabled reports whether the assistant is switched on
func (s AiSettings) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// IsConfigured reports whether the assistant can call the upstream endpoint
func (s AiSettings) IsConfigured() bool {
	return s.IsEnabled() && s.APIKey != "" && s.ModelName != ""
}
