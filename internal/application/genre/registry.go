// Package genre 提供静态的流派指导注册表
package genre

import (
	"sort"
	"strings"
)

// instructions 流派 -> 子流派 -> 写作指导
var instructions = map[string]map[string]string{
	"fantasy": {
		"epic_fantasy":  "Sweeping secondary-world stakes, layered factions, and a slow-burn magic system whose rules carry real costs. Chapters should braid the personal journey with the fate of the realm.",
		"urban_fantasy": "A hidden magical layer under a contemporary city. Keep the mundane world tactile, let the supernatural intrude through consequences, and anchor scenes in recognizable streets and jobs.",
		"dark_fantasy":  "Morally compromised protagonists, a hostile world, and magic that corrupts. Violence has weight; victories cost something permanent.",
	},
	"science_fiction": {
		"space_opera":    "Interstellar scale with intimate character stakes. Ships, politics, and alien cultures should feel lived-in; technology serves drama rather than exposition.",
		"cyberpunk":      "High tech, low life. Corporate power, body modification, and street-level hustle. Keep prose kinetic and sensory, the city itself a character.",
		"dystopian":      "A controlled society and the cost of dissent. Build the regime through daily texture, ration scenes of open rebellion, and let hope stay expensive.",
		"hard_sf":        "Physics-honest extrapolation. Problems are solved with knowledge under constraint; wonder emerges from accuracy, not hand-waving.",
	},
	"mystery": {
		"cozy_mystery":      "A small community, an amateur sleuth, and violence kept offstage. Warmth and wit carry the investigation; clues are fairly planted.",
		"police_procedural": "Methodical investigation under institutional pressure. Forensics, interviews, and dead ends; the case advances through disciplined routine.",
		"noir":              "A compromised investigator in a corrupt world. First-person interiority, moral ambiguity, and an ending that costs the hero.",
	},
	"thriller": {
		"psychological_thriller": "Unreliable perception and escalating paranoia. Tension lives in what characters believe, not what explodes; twist reveals must be retro-consistent.",
		"espionage":              "Tradecraft, divided loyalties, and institutional chess. Information is the currency; every meeting is a negotiation with hidden stakes.",
		"techno_thriller":        "Plausible technology as the engine of threat. Pacing alternates expert problem-solving with hard deadlines and physical danger.",
	},
	"romance": {
		"contemporary_romance": "Two fully-drawn leads with credible obstacles. Emotional beats land through specific gestures; the central relationship drives every subplot.",
		"historical_romance":   "Period-accurate constraint as the engine of longing. Social rules create distance; intimacy grows through small permitted moments.",
		"romantic_suspense":    "Love story braided with danger. Alternate threat escalation with relationship beats so each raises the stakes of the other.",
	},
	"horror": {
		"gothic_horror":       "Atmosphere over gore. A burdened place, a family secret, and dread assembled from architecture, weather, and repressed history.",
		"supernatural_horror": "An intruding entity with consistent rules. Escalate manifestations gradually and make belief itself part of the danger.",
	},
}

// Guidance 返回流派组合的写作指导，未知组合返回 false
func Guidance(genre, subgenre string) (string, bool) {
	subs, ok := instructions[genre]
	if !ok {
		return "", false
	}
	text, ok := subs[subgenre]
	return text, ok
}

// IsValid 校验流派组合是否受支持
func IsValid(genre, subgenre string) bool {
	_, ok := Guidance(genre, subgenre)
	return ok
}

// Subgenre 子流派条目
type Subgenre struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Description string `json:"description"`
}

// Genre 流派条目
type Genre struct {
	Name        string     `json:"name"`
	DisplayName string     `json:"display_name"`
	Subgenres   []Subgenre `json:"subgenres"`
}

// List 按名称排序返回全部流派
func List() []Genre {
	genres := make([]Genre, 0, len(instructions))
	for name, subs := range instructions {
		g := Genre{
			Name:        name,
			DisplayName: displayName(name),
			Subgenres:   make([]Subgenre, 0, len(subs)),
		}
		for sub, desc := range subs {
			g.Subgenres = append(g.Subgenres, Subgenre{
				Name:        sub,
				DisplayName: displayName(sub),
				Description: desc,
			})
		}
		sort.Slice(g.Subgenres, func(i, j int) bool { return g.Subgenres[i].Name < g.Subgenres[j].Name })
		genres = append(genres, g)
	}
	sort.Slice(genres, func(i, j int) bool { return genres[i].Name < genres[j].Name })
	return genres
}

// displayName 下划线转空格
func displayName(name string) string {
	return strings.ReplaceAll(name, "_", " ")
}
