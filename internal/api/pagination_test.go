package api

import (
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func paginationContext(target string) *gin.Context {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", target, nil)
	return c
}

func TestParsePagination(t *testing.T) {
	tests := []struct {
		name       string
		target     string
		wantPage   int
		wantLimit  int
		wantOffset int
	}{
		{"defaults", "/test", 1, 50, 0},
		{"custom values", "/test?page=3&limit=25", 3, 25, 50},
		{"page zero", "/test?page=0", 1, 50, 0},
		{"negative page", "/test?page=-2", 1, 50, 0},
		{"limit over max", "/test?limit=501", 1, 50, 0},
		{"limit at max", "/test?limit=500", 1, 500, 0},
		{"garbage", "/test?page=abc&limit=xyz", 1, 50, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := ParsePagination(paginationContext(tt.target), DefaultPaginationConfig())
			if p.Page != tt.wantPage || p.Limit != tt.wantLimit || p.Offset != tt.wantOffset {
				t.Errorf("got page=%d limit=%d offset=%d, want %d/%d/%d",
					p.Page, p.Limit, p.Offset, tt.wantPage, tt.wantLimit, tt.wantOffset)
			}
		})
	}
}

func TestNewPaginationResponse(t *testing.T) {
	tests := []struct {
		total     int
		limit     int
		wantPages int
	}{
		{0, 50, 0},
		{1, 50, 1},
		{50, 50, 1},
		{51, 50, 2},
		{10, 0, 0},
	}

	for _, tt := range tests {
		resp := NewPaginationResponse(PaginationParams{Page: 1, Limit: tt.limit}, tt.total)
		if resp.TotalPages != tt.wantPages {
			t.Errorf("total=%d limit=%d: TotalPages = %d, want %d", tt.total, tt.limit, resp.TotalPages, tt.wantPages)
		}
		if resp.Total != tt.total {
			t.Errorf("Total = %d, want %d", resp.Total, tt.total)
		}
	}
}

func TestParseInt(t *testing.T) {
	tests := map[string]int{
		"":    7,
		"0":   0,
		"42":  42,
		"-1":  7,
		"4x2": 7,
	}
	for in, want := range tests {
		if got := parseInt(in, 7); got != want {
			t.Errorf("parseInt(%q) = %d, want %d", in, got, want)
		}
	}
}
