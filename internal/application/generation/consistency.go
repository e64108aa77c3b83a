package generation

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"novel-forge-api/internal/domain/entity"
)

// 一致性检查的窗口与输出上限，防止提示词膨胀
const (
	consistencyChapterWindow = 3
	maxConsistencyCharacters = 4
	maxConsistencyLocations  = 3
	maxConsistencyObjects    = 2
	maxConsistencyWarnings   = 2
)

var (
	dialogueAttributionRe = regexp.MustCompile(`"[^"]*,?"\s*(?:said|asked|replied|answered|whispered|shouted|muttered)\s+([A-Z][a-z]+)`)
	nameDialogueRe        = regexp.MustCompile(`([A-Z][a-z]+)\s+(?:said|asked|replied|answered|whispered|shouted|muttered)`)
	possessiveRe          = regexp.MustCompile(`([A-Z][a-z]+)'s\s`)

	locationRes = []*regexp.Regexp{
		regexp.MustCompile(`(?:at|in|to|from|near|inside|outside|within)\s+the\s+([A-Z][a-z]+(?:\s+[A-Z][a-z]+)?)`),
		regexp.MustCompile(`(?:entered|left|approached|reached)\s+the\s+([A-Z][a-z]+(?:\s+[A-Z][a-z]+)?)`),
	}

	objectRe = regexp.MustCompile(`\bthe\s+([a-z]+(?:\s+[a-z]+)?)\b`)
)

var consistencyStopWords = map[string]bool{
	"the": true, "and": true, "but": true, "for": true, "are": true, "was": true,
	"were": true, "been": true, "have": true, "has": true, "had": true,
	"will": true, "would": true, "could": true, "should": true, "can": true,
	"may": true, "might": true, "must": true, "shall": true,
	"this": true, "that": true, "these": true, "those": true, "what": true,
	"when": true, "where": true, "why": true, "how": true,
	"said": true, "says": true, "told": true, "asked": true, "came": true,
	"went": true, "took": true, "gave": true, "made": true,
	"with": true, "from": true, "they": true, "them": true, "their": true,
	"there": true, "then": true, "than": true, "some": true,
	"more": true, "very": true, "just": true, "like": true, "time": true,
	"only": true, "know": true, "think": true, "people": true,
}

var genericLocationWords = []string{"room", "place", "area", "spot", "side", "end", "way", "door", "window"}

var genericObjectWords = []string{"thing", "way", "time", "day", "night", "moment", "second", "minute", "hour"}

var importantObjectWords = []string{
	"weapon", "sword", "gun", "knife", "blade",
	"book", "letter", "document", "map", "key",
	"ring", "necklace", "crown", "gem", "stone",
	"ship", "car", "vehicle", "horse",
	"device", "machine", "computer", "phone",
	"crystal", "artifact", "relic",
}

// storyElements 从近期章节抽取的关键元素，全部为小写形式
type storyElements struct {
	characters map[string]bool
	locations  map[string]bool
	objects    map[string]bool
}

func newStoryElements() storyElements {
	return storyElements{
		characters: make(map[string]bool),
		locations:  make(map[string]bool),
		objects:    make(map[string]bool),
	}
}

// extractStoryElements 纯函数式正则抽取，不调用模型也不持久化任何状态。
// 只扫描最近几章以限制开销
func extractStoryElements(chapters []entity.ChapterRecord) storyElements {
	elements := newStoryElements()

	start := 0
	if len(chapters) > consistencyChapterWindow {
		start = len(chapters) - consistencyChapterWindow
	}

	for _, ch := range chapters[start:] {
		if ch.Content == "" {
			continue
		}
		extractCharacters(ch.Content, elements.characters)
		extractLocations(ch.Content, elements.locations)
		extractObjects(strings.ToLower(ch.Content), elements.objects)
	}
	return elements
}

func extractCharacters(content string, out map[string]bool) {
	for _, re := range []*regexp.Regexp{dialogueAttributionRe, nameDialogueRe, possessiveRe} {
		for _, m := range re.FindAllStringSubmatch(content, -1) {
			name := strings.ToLower(m[1])
			if len(name) > 2 && !consistencyStopWords[name] {
				out[name] = true
			}
		}
	}
}

func extractLocations(content string, out map[string]bool) {
	for _, re := range locationRes {
		for _, m := range re.FindAllStringSubmatch(content, -1) {
			loc := strings.ToLower(m[1])
			if len(loc) > 3 && !containsAny(loc, genericLocationWords) {
				out[loc] = true
			}
		}
	}
}

func extractObjects(content string, out map[string]bool) {
	for _, m := range objectRe.FindAllStringSubmatch(content, -1) {
		obj := m[1]
		if len(obj) > 3 && !consistencyStopWords[obj] &&
			!containsAny(obj, genericObjectWords) && containsAny(obj, importantObjectWords) {
			out[obj] = true
		}
	}
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func sortedLimit(set map[string]bool, limit int) []string {
	items := make([]string, 0, len(set))
	for item := range set {
		items = append(items, item)
	}
	sort.Strings(items)
	if len(items) > limit {
		items = items[:limit]
	}
	return items
}

// consistencyNotes 生成注入章节提示词的一致性提示块
func consistencyNotes(completed []entity.ChapterRecord) string {
	if len(completed) == 0 {
		return "This is the first chapter - establish key characters and setting clearly."
	}

	elements := extractStoryElements(completed)

	var lines []string
	if chars := sortedLimit(elements.characters, maxConsistencyCharacters); len(chars) > 0 {
		lines = append(lines, "Established characters: "+strings.Join(chars, ", "))
	}
	if locs := sortedLimit(elements.locations, maxConsistencyLocations); len(locs) > 0 {
		lines = append(lines, "Key locations: "+strings.Join(locs, ", "))
	}
	if objs := sortedLimit(elements.objects, maxConsistencyObjects); len(objs) > 0 {
		lines = append(lines, "Important items: "+strings.Join(objs, ", "))
	}

	if len(lines) == 0 {
		return "Maintain consistency with previous chapters."
	}
	return "CONSISTENCY NOTES:\n- " + strings.Join(lines, "\n- ") + "\n\nMaintain consistency with established elements."
}

// StoryBible 从已完成章节汇总出的故事要素视图
type StoryBible struct {
	Characters []string `json:"characters"`
	Locations  []string `json:"locations"`
	KeyObjects []string `json:"key_objects"`
}

// BuildStoryBible 按需扫描全部已完成章节，汇总角色、地点与关键物品。
// 纯计算，不持久化，调用方自行决定是否缓存
func BuildStoryBible(chapters []entity.ChapterRecord) StoryBible {
	elements := newStoryElements()
	for _, ch := range chapters {
		if ch.Status != entity.ChapterCompleted || ch.Content == "" {
			continue
		}
		extractCharacters(ch.Content, elements.characters)
		extractLocations(ch.Content, elements.locations)
		extractObjects(strings.ToLower(ch.Content), elements.objects)
	}
	return StoryBible{
		Characters: sortedLimit(elements.characters, len(elements.characters)),
		Locations:  sortedLimit(elements.locations, len(elements.locations)),
		KeyObjects: sortedLimit(elements.objects, len(elements.objects)),
	}
}

// validateConsistency 对新章节做轻量校验，返回疑似角色名变体的警告。
// 只返回警告，不阻断生成
func validateConsistency(newContent string, completed []entity.ChapterRecord) []string {
	if len(completed) == 0 {
		return nil
	}

	existing := extractStoryElements(completed)
	fresh := extractStoryElements([]entity.ChapterRecord{{Content: newContent}})

	var warnings []string
	for _, newName := range sortedLimit(fresh.characters, len(fresh.characters)) {
		for _, oldName := range sortedLimit(existing.characters, len(existing.characters)) {
			if isPotentialTypo(newName, oldName) {
				warnings = append(warnings, fmt.Sprintf("Possible name variation: %q vs established %q", newName, oldName))
			}
		}
	}

	if len(warnings) > maxConsistencyWarnings {
		warnings = warnings[:maxConsistencyWarnings]
	}
	return warnings
}

// isPotentialTypo 用逐位比较近似编辑距离，识别疑似拼写变体
func isPotentialTypo(a, b string) bool {
	if a == b {
		return false
	}
	if abs(len(a)-len(b)) > 2 {
		return false
	}

	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	differences := 0
	for i := 0; i < maxLen; i++ {
		ca, cb := byte(0), byte(0)
		if i < len(a) {
			ca = a[i]
		}
		if i < len(b) {
			cb = b[i]
		}
		if ca != cb {
			differences++
		}
	}
	return differences > 0 && differences <= 2 && len(a) > 3
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
