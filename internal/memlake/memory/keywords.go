package memory

import "strings"

// defaultTerms is the fixed domain vocabulary used to tag topics and to
// extract keywords from recall queries. Matching is case-insensitive
// substring matching, so both scripts work without tokenisation.
var defaultTerms = []string{
	// everyday assistant functions
	"天气", "时间", "搜索", "打开", "计算", "距离", "系统", "文件", "笔记", "穿衣", "出门", "建议",
	"weather", "time", "search", "open", "calculate", "distance", "system", "file", "note", "outfit", "advice",
	// travel and sights
	"历史", "景点", "旅游", "参观", "游览", "建筑", "教堂", "大教堂", "广场", "公园", "博物馆", "遗址", "古迹",
	"故宫", "天安门", "红场", "莫斯科", "柏林", "勃兰登堡门", "法兰克福", "铁桥", "桥",
	"history", "travel", "trip", "visit", "museum", "park", "church", "cathedral", "bridge",
	// programming
	"python", "c++", "cobol", "java", "编程", "代码", "程序", "开发",
	"programming", "code", "program", "develop",
	// files, music
	"创建", "保存", "文件夹", "目录", "歌单", "音乐", "歌曲", "推荐",
	"create", "save", "folder", "directory", "playlist", "music", "song", "recommend",
	// games
	"计算器", "俄罗斯方块", "tetris", "贪吃蛇", "snake", "井字棋", "tic-tac-toe", "游戏",
	"calculator", "game",
	// technical
	"爬虫", "crawler", "数据分析", "data", "hello world",
	// the assistant itself
	"设置", "记忆", "识底深湖", "mcp", "工具", "api", "配置",
	"settings", "memory", "tool", "config",
}

// Vocabulary is an ordered, case-insensitive keyword list.
type Vocabulary struct {
	terms []string
}

// NewVocabulary returns the default vocabulary extended with extra terms.
// Duplicates and empty terms are dropped.
func NewVocabulary(extra ...string) *Vocabulary {
	seen := make(map[string]bool)
	var terms []string
	for _, t := range append(append([]string(nil), defaultTerms...), extra...) {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		terms = append(terms, t)
	}
	return &Vocabulary{terms: terms}
}

// Extract returns the vocabulary terms contained in text, in vocabulary order.
func (v *Vocabulary) Extract(text string) []string {
	lower := strings.ToLower(text)
	var out []string
	for _, t := range v.terms {
		if strings.Contains(lower, t) {
			out = append(out, t)
		}
	}
	return out
}

// Len returns the number of terms.
func (v *Vocabulary) Len() int { return len(v.terms) }

// containsFold reports whether keywords holds k, ignoring case.
func containsFold(keywords []string, k string) bool {
	for _, kw := range keywords {
		if strings.EqualFold(strings.TrimSpace(kw), k) {
			return true
		}
	}
	return false
}

// normaliseKeywords lowercases, trims and de-duplicates keywords, preserving
// order.
func normaliseKeywords(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, k := range in {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}
