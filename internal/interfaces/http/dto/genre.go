package dto

import (
	"novel-forge-api/internal/application/genre"
)

// SubgenreResponse 子类型响应
type SubgenreResponse struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Description string `json:"description"`
}

// GenreResponse 类型响应
type GenreResponse struct {
	Name        string             `json:"name"`
	DisplayName string             `json:"display_name"`
	Subgenres   []SubgenreResponse `json:"subgenres"`
}

// ToGenreResponses 将类型注册表转换为响应列表
func ToGenreResponses(genres []genre.Genre) []GenreResponse {
	out := make([]GenreResponse, 0, len(genres))
	for _, g := range genres {
		subs := make([]SubgenreResponse, 0, len(g.Subgenres))
		for _, s := range g.Subgenres {
			subs = append(subs, SubgenreResponse{
				Name:        s.Name,
				DisplayName: s.DisplayName,
				Description: s.Description,
			})
		}
		out = append(out, GenreResponse{
			Name:        g.Name,
			DisplayName: g.DisplayName,
			Subgenres:   subs,
		})
	}
	return out
}
