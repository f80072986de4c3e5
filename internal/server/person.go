package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/knoguchi/peermatch/internal/repository"
	"github.com/knoguchi/peermatch/internal/service"
)

// embeddingPreviewLen bounds how much of a vector a single-person read exposes.
const embeddingPreviewLen = 5

// personJSON is the wire form of a person. Vectors are never listed in full.
type personJSON struct {
	PhoneNumber        string    `json:"phoneNumber"`
	Name               string    `json:"name"`
	Interests          []string  `json:"interests"`
	Skills             []string  `json:"skills"`
	Bio                string    `json:"bio"`
	Location           string    `json:"location"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
	EmbeddingPreview   []float32 `json:"vectorEmbeddingPreview,omitempty"`
	EmbeddingDimension int       `json:"vectorEmbeddingDimension,omitempty"`
}

func toPersonJSON(p *repository.Person, preview bool) personJSON {
	out := personJSON{
		PhoneNumber: p.PhoneNumber,
		Name:        p.Name,
		Interests:   nonNil(p.Interests),
		Skills:      nonNil(p.Skills),
		Bio:         p.Bio,
		Location:    p.Location,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
	if preview && p.HasEmbedding() {
		n := min(embeddingPreviewLen, len(p.VectorEmbedding))
		out.EmbeddingPreview = append([]float32(nil), p.VectorEmbedding[:n]...)
		out.EmbeddingDimension = len(p.VectorEmbedding)
	}
	return out
}

type matchJSON struct {
	PhoneNumber string  `json:"phoneNumber"`
	Name        string  `json:"name"`
	Interests   string  `json:"interests"`
	Skills      string  `json:"skills"`
	Bio         string  `json:"bio"`
	Location    string  `json:"location"`
	Score       float64 `json:"score"`
	Similarity  float64 `json:"similarity"`
}

func toMatchJSON(m *service.Match) matchJSON {
	return matchJSON{
		PhoneNumber: m.PhoneNumber,
		Name:        m.Name,
		Interests:   m.Interests,
		Skills:      m.Skills,
		Bio:         m.Bio,
		Location:    m.Location,
		Score:       m.Score,
		Similarity:  m.SimilarityPercent,
	}
}

type createPersonRequest struct {
	PhoneNumber string   `json:"phoneNumber"`
	Name        string   `json:"name"`
	Interests   []string `json:"interests"`
	Skills      []string `json:"skills"`
	Bio         string   `json:"bio"`
	Location    string   `json:"location"`
}

type updatePersonRequest struct {
	Name      *string   `json:"name"`
	Location  *string   `json:"location"`
	Bio       *string   `json:"bio"`
	Interests *[]string `json:"interests"`
	Skills    *[]string `json:"skills"`
}

// PersonHandler serves /api/person.
type PersonHandler struct {
	people  *service.PersonService
	matcher *service.MatchService
	logger  *slog.Logger
}

// NewPersonHandler creates a PersonHandler.
func NewPersonHandler(people *service.PersonService, matcher *service.MatchService, logger *slog.Logger) *PersonHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PersonHandler{people: people, matcher: matcher, logger: logger}
}

// Routes mounts the person API. admin guards destructive routes.
func (h *PersonHandler) Routes(admin func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Post("/create", h.create)
	r.Get("/list", h.list)
	r.With(admin).Delete("/delete-all", h.deleteAll)
	r.Get("/similar", h.similar)
	r.Get("/similar/best", h.bestMatch)
	r.Get("/", h.getByQuery)
	r.Put("/", h.update)
	r.Get("/{phone}", h.getByPath)
	return r
}

func (h *PersonHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createPersonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFail(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	p, err := h.people.Create(r.Context(), service.CreatePersonInput{
		PhoneNumber: req.PhoneNumber,
		Name:        req.Name,
		Interests:   req.Interests,
		Skills:      req.Skills,
		Bio:         req.Bio,
		Location:    req.Location,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeData(w, "Person created successfully", toPersonJSON(p, false))
}

func (h *PersonHandler) list(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	perPage := queryInt(r, "per_page", service.DefaultPerPage)

	res, err := h.people.List(r.Context(), page, perPage)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	persons := make([]personJSON, len(res.People))
	for i, p := range res.People {
		persons[i] = toPersonJSON(p, false)
	}
	writeData(w, "", map[string]any{
		"persons": persons,
		"pagination": map[string]int{
			"total_count": res.TotalCount,
			"page":        res.Page,
			"per_page":    res.PerPage,
			"total_pages": res.TotalPages,
		},
	})
}

func (h *PersonHandler) deleteAll(w http.ResponseWriter, r *http.Request) {
	n, err := h.people.DeleteAll(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeData(w, fmt.Sprintf("Successfully deleted %d persons", n), map[string]int64{"deleted_count": n})
}

func (h *PersonHandler) getByQuery(w http.ResponseWriter, r *http.Request) {
	h.get(w, r, r.URL.Query().Get("phone_number"))
}

func (h *PersonHandler) getByPath(w http.ResponseWriter, r *http.Request) {
	phone, err := url.PathUnescape(chi.URLParam(r, "phone"))
	if err != nil {
		writeFail(w, http.StatusBadRequest, "Invalid phone number format")
		return
	}
	h.get(w, r, phone)
}

func (h *PersonHandler) get(w http.ResponseWriter, r *http.Request, phone string) {
	p, err := h.people.Get(r.Context(), phone)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeData(w, "", toPersonJSON(p, true))
}

func (h *PersonHandler) update(w http.ResponseWriter, r *http.Request) {
	var req updatePersonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFail(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	patch := service.Patch{
		Name:      req.Name,
		Location:  req.Location,
		Bio:       req.Bio,
		Interests: req.Interests,
		Skills:    req.Skills,
	}
	if patch.IsEmpty() {
		writeFail(w, http.StatusBadRequest, "No fields to update")
		return
	}

	p, changes, err := h.people.Update(r.Context(), r.URL.Query().Get("phone_number"), patch)
	switch {
	case errors.Is(err, service.ErrNoChange):
		writeJSON(w, http.StatusOK, map[string]any{
			"success":        true,
			"message":        service.MessageOf(err),
			"data":           toPersonJSON(p, false),
			"updated_fields": []string{},
		})
	case err != nil:
		writeError(w, r, h.logger, err)
	default:
		writeJSON(w, http.StatusOK, map[string]any{
			"success":        true,
			"message":        "Person updated successfully",
			"data":           toPersonJSON(p, false),
			"updated_fields": changes.Fields(),
			"reembedded":     changes.Semantic(),
		})
	}
}

func (h *PersonHandler) similar(w http.ResponseWriter, r *http.Request) {
	matches, err := h.matcher.FindSimilar(r.Context(), r.URL.Query().Get("query"))
	if err != nil && !errors.Is(err, service.ErrNoMatch) {
		writeError(w, r, h.logger, err)
		return
	}

	out := make([]matchJSON, len(matches))
	for i := range matches {
		out[i] = toMatchJSON(&matches[i])
	}
	writeData(w, "", map[string]any{"matches": out, "count": len(out)})
}

func (h *PersonHandler) bestMatch(w http.ResponseWriter, r *http.Request) {
	m, err := h.matcher.BestMatch(r.Context(), r.URL.Query().Get("query"))
	switch {
	case errors.Is(err, service.ErrNoMatch):
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "found": false})
	case err != nil:
		writeError(w, r, h.logger, err)
	default:
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "found": true, "best_match": toMatchJSON(m)})
	}
}

// queryInt returns the integer query parameter key, or def when absent or malformed.
func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
