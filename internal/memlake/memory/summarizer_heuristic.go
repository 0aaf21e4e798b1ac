package memory

import (
	"context"
	"fmt"
	"strings"
)

// topicCategory maps trigger terms to a human-readable label.
type topicCategory struct {
	label string
	terms []string
}

var heuristicCategories = []topicCategory{
	{"Python programming", []string{"python"}},
	{"C++ programming", []string{"c++"}},
	{"Java programming", []string{"java"}},
	{"Music recommendations", []string{"音乐", "歌单", "歌曲", "music", "playlist", "song"}},
	{"Weather", []string{"天气", "weather", "温度", "temperature"}},
	{"Folder creation", []string{"文件夹", "目录", "folder", "directory"}},
	{"File operations", []string{"文件", "file", "note", "笔记"}},
	{"Games", []string{"俄罗斯方块", "tetris", "贪吃蛇", "snake", "井字棋", "tic-tac-toe", "游戏", "game"}},
	{"Web crawler", []string{"爬虫", "crawler"}},
	{"Data analysis", []string{"数据分析", "data analysis"}},
	{"Travel", []string{"旅游", "游记", "行程", "景点", "travel", "trip", "itinerary"}},
	{"Memory system", []string{"记忆", "识底深湖", "memory"}},
	{"Tools", []string{"mcp", "工具", "tool"}},
	{"Web search", []string{"搜索", "search"}},
	{"Time", []string{"时间", "what time"}},
	{"Settings", []string{"设置", "settings", "配置", "config"}},
	{"Greetings", []string{"你好", "问候", "hello", "good morning"}},
}

// HeuristicSummarizer produces summaries locally, without a model, by
// matching the transcript against known topic categories. It is used when no
// API key is configured.
type HeuristicSummarizer struct {
	vocab     *Vocabulary
	userLabel string
}

var _ Summarizer = (*HeuristicSummarizer)(nil)

// NewHeuristicSummarizer creates a summarizer over vocab. userLabel is the
// speaker prefix of user lines in the transcript. Zero values use the
// defaults.
func NewHeuristicSummarizer(vocab *Vocabulary, userLabel string) *HeuristicSummarizer {
	if vocab == nil {
		vocab = NewVocabulary()
	}
	if userLabel == "" {
		userLabel = DefaultUserLabel
	}
	return &HeuristicSummarizer{vocab: vocab, userLabel: userLabel}
}

// Summarize labels the transcript from matched categories and keeps a
// condensed digest of the exchange as the detail.
func (h *HeuristicSummarizer) Summarize(ctx context.Context, text string) (Summary, error) {
	if err := ctx.Err(); err != nil {
		return Summary{}, err
	}
	if strings.TrimSpace(text) == "" {
		return Summary{}, ErrEmptySummary
	}

	keywords := h.vocab.Extract(text)
	return Summary{
		Topic:    heuristicTopic(text, keywords),
		Keywords: keywords,
		Detail:   h.detail(text),
	}, nil
}

func heuristicTopic(text string, keywords []string) string {
	lower := strings.ToLower(text)
	var labels []string
	for _, c := range heuristicCategories {
		for _, t := range c.terms {
			if strings.Contains(lower, t) {
				labels = append(labels, c.label)
				break
			}
		}
	}

	switch {
	case len(labels) >= 3:
		return fmt.Sprintf("%s, %s and more", labels[0], labels[1])
	case len(labels) == 2:
		return labels[0] + " and " + labels[1]
	case len(labels) == 1:
		return labels[0]
	case len(keywords) > 0:
		return "Conversation about " + keywords[0]
	default:
		return "Small talk"
	}
}

// detail lists what the user asked, one clipped entry per user line.
func (h *HeuristicSummarizer) detail(text string) string {
	prefix := h.userLabel + ": "
	var asks []string
	for _, line := range strings.Split(text, "\n") {
		if len(asks) == fallbackDetailMaxTurns {
			break
		}
		if said, ok := strings.CutPrefix(line, prefix); ok && strings.TrimSpace(said) != "" {
			asks = append(asks, clip(said, fallbackDetailRunes))
		}
	}
	if len(asks) == 0 {
		return clip(text, fallbackDetailRunes*2)
	}
	return "Discussed: " + strings.Join(asks, "; ")
}
