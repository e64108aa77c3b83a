package generation

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"novel-forge-api/internal/domain/entity"
)

// summaryExcerptRunes 生成章节摘要时送入的正文长度上限
const summaryExcerptRunes = 3000

// condensedAnalysisThreshold 章数超过该值时压缩分析上下文以控制 token
const condensedAnalysisThreshold = 20

func displayGenre(name string) string {
	return strings.ReplaceAll(name, "_", " ")
}

// truncateRunes 按 rune 截断并附省略号
func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}

// outlineLines 以 "ChN: Title - Summary" 的紧凑形式列出整本大纲
func outlineLines(specs []entity.ChapterSpec) string {
	if len(specs) == 0 {
		return "No outline available"
	}
	lines := make([]string, 0, len(specs))
	for _, spec := range specs {
		lines = append(lines, fmt.Sprintf("Ch%d: %s - %s", spec.ChapterNumber, spec.Title, spec.Summary))
	}
	return strings.Join(lines, "\n")
}

func buildAnalysisPrompt(job *entity.NovelJob, guidance string) string {
	var b strings.Builder
	b.WriteString("Analyze this novel premise and provide structural recommendations:\n\n")
	fmt.Fprintf(&b, "PREMISE: %q\n\n", job.Premise)
	fmt.Fprintf(&b, "GENRE: %s\nSUBGENRE: %s\n", displayGenre(job.Genre), displayGenre(job.Subgenre))
	fmt.Fprintf(&b, "TARGET WORD COUNT: %d\nTARGET CHAPTERS: %d\n\n", job.TargetWordCount, job.TargetChapters)
	fmt.Fprintf(&b, "GENRE GUIDELINES:\n%s\n\n", guidance)
	b.WriteString(`Please provide a comprehensive analysis that prioritizes engaging storytelling:

ANALYSIS REQUIREMENTS:
1. Theme analysis - themes that allow for moral complexity
2. Character archetypes - with internal contradictions and growth potential
3. Plot structure - that accommodates meaningful failures and setbacks
4. Key story beats - including moments of genuine uncertainty
5. Potential subplots - that may remain partially unresolved
6. Tone and style guidance - that varies subtly throughout
7. ENGAGING ELEMENTS:
   - Clear character motivations and goals
   - Compelling conflicts and obstacles
   - Satisfying story progression
   - Genre-appropriate atmosphere and tone

Respond in JSON format:
{
  "themes": ["theme1", "theme2"],
  "characters": {"Character Name": {"type": "character_type", "conflicts": ["internal_struggle"], "speech_pattern": "distinctive_traits"}},
  "plot_structure": "structure_with_room_for_setbacks",
  "key_beats": ["beat1", "beat2"],
  "subplots": [{"main": "subplot", "resolution": "complete|partial|unresolved"}],
  "tone": "description_that_allows_variation",
  "style_notes": "guidance_for_character_specific_prose"
}`)
	return b.String()
}

func buildOutlinePrompt(job *entity.NovelJob) string {
	perChapter := 0
	if job.TargetChapters > 0 {
		perChapter = int(math.Round(float64(job.TargetWordCount) / float64(job.TargetChapters)))
	}

	analysisJSON := "{}"
	if job.Analysis != nil {
		if data, err := json.MarshalIndent(job.Analysis, "", " "); err == nil {
			analysisJSON = string(data)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Create a %d-chapter outline for %q (%s - %s).\n\n",
		job.TargetChapters, job.Title, displayGenre(job.Genre), displayGenre(job.Subgenre))
	fmt.Fprintf(&b, "PREMISE: %s\n", job.Premise)
	fmt.Fprintf(&b, "WORD COUNT: %d total (~%d per chapter)\n\n", job.TargetWordCount, perChapter)
	fmt.Fprintf(&b, "ANALYSIS: %s\n\n", analysisJSON)
	b.WriteString(`OUTLINE REQUIREMENTS:
- Create engaging chapter progression with clear story beats
- Build tension and character development throughout
- Include compelling conflicts and resolutions
- Maintain genre conventions and reader expectations

`)
	fmt.Fprintf(&b, "Create exactly %d chapters with detailed descriptions that embrace engaging storytelling:\n\n", job.TargetChapters)
	fmt.Fprintf(&b, `JSON format:
{
  "outline": [
    {
      "chapter_number": 1,
      "title": "Chapter Title",
      "summary": "Key events and plot progression",
      "key_events": ["event1", "event2", "event3"],
      "character_focus": ["char1", "char2"],
      "plot_advancement": "How this chapter advances or complicates the main plot",
      "word_target": %d,
      "genre_elements": ["genre-specific element1", "genre-specific element2"]
    }
  ]
}`, perChapter)
	return b.String()
}

// analysisContext 为章节提示词准备分析上下文。
// 长篇任务只保留主题与角色名，避免每章重复携带完整分析 JSON
func analysisContext(job *entity.NovelJob) string {
	if job.Analysis == nil {
		return "{}"
	}
	if job.TargetChapters > condensedAnalysisThreshold {
		names := make([]string, 0, len(job.Analysis.Characters))
		for name := range job.Analysis.Characters {
			names = append(names, name)
		}
		sort.Strings(names)

		themes := "N/A"
		if len(job.Analysis.Themes) > 0 {
			themes = strings.Join(job.Analysis.Themes, ", ")
		}
		characters := "N/A"
		if len(names) > 0 {
			characters = strings.Join(names, ", ")
		}
		return fmt.Sprintf("Key themes: %s\nMain characters: %s", themes, characters)
	}
	data, err := json.MarshalIndent(job.Analysis, "", " ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

func buildChapterPrompt(job *entity.NovelJob, spec entity.ChapterSpec, storyMemory, consistencyNotes, guidance string) string {
	synopsis := job.Synopsis
	if synopsis == "" {
		synopsis = "No synopsis available"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Write Chapter %d of the novel %q.\n\n", spec.ChapterNumber, job.Title)
	b.WriteString("CHAPTER OUTLINE:\n")
	fmt.Fprintf(&b, "Title: %s\n", spec.Title)
	fmt.Fprintf(&b, "Summary: %s\n", spec.Summary)
	fmt.Fprintf(&b, "Key Events: %s\n", strings.Join(spec.KeyEvents, ", "))
	fmt.Fprintf(&b, "Target Word Count: %d\n\n", spec.WordTarget)
	b.WriteString("STORY FOUNDATION:\n")
	fmt.Fprintf(&b, "Premise: %q\n", job.Premise)
	fmt.Fprintf(&b, "Genre: %s - %s\n\n", displayGenre(job.Genre), displayGenre(job.Subgenre))
	fmt.Fprintf(&b, "ORIGINAL SYNOPSIS:\n%s\n\n", synopsis)
	fmt.Fprintf(&b, "COMPLETE CHAPTER OUTLINE:\n%s\n", outlineLines(job.Outline))
	b.WriteString(storyMemory)
	if consistencyNotes != "" {
		fmt.Fprintf(&b, "\n%s\n", consistencyNotes)
	}
	fmt.Fprintf(&b, "\nGENRE GUIDELINES:\n%s\n\n", guidance)
	fmt.Fprintf(&b, "ANALYSIS CONTEXT:\n%s\n\n", analysisContext(job))
	fmt.Fprintf(&b, "Write approximately %d words of engaging prose that maintains genre conventions and advances the story effectively.\n\n", spec.WordTarget)
	b.WriteString("Write only the chapter content, no metadata or formatting.")
	return b.String()
}

func buildSynopsisPrompt(job *entity.NovelJob) string {
	var b strings.Builder
	b.WriteString("Based on the premise and chapter outline, create a comprehensive synopsis for this novel:\n\n")
	fmt.Fprintf(&b, "PREMISE: %s\n", job.Premise)
	fmt.Fprintf(&b, "TITLE: %s\n", job.Title)
	fmt.Fprintf(&b, "GENRE: %s - %s\n", displayGenre(job.Genre), displayGenre(job.Subgenre))
	fmt.Fprintf(&b, "TARGET LENGTH: %d words, %d chapters\n\n", job.TargetWordCount, job.TargetChapters)
	fmt.Fprintf(&b, "CHAPTER OUTLINE:\n%s\n\n", outlineLines(job.Outline))
	b.WriteString(`Write a detailed synopsis that captures:
- The main story arc and central conflict
- Key character development and relationships
- Major plot points and turning moments
- The story's themes and genre elements
- How the story resolves

This synopsis will be used to maintain consistency throughout the novel generation process.

Synopsis:`)
	return b.String()
}

func buildSummaryPrompt(number int, title, content string) string {
	var b strings.Builder
	b.WriteString("Summarize this chapter in 2-3 sentences, focusing on key plot developments, character actions, and important story elements that future chapters need to remember for consistency:\n\n")
	fmt.Fprintf(&b, "CHAPTER %d: %s\n\n", number, title)
	fmt.Fprintf(&b, "%s\n\n", truncateRunes(content, summaryExcerptRunes))
	b.WriteString("Summary:")
	return b.String()
}
