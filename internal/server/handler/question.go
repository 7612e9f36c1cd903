package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/opinioncore/internal/domain"
	"github.com/alanyoungcy/opinioncore/internal/service"
)

// QuestionService defines the methods the question handler requires from the
// service layer. It is declared locally so the handler package does not
// depend on the concrete service implementation.
type QuestionService interface {
	CreateQuestion(ctx context.Context, creator, text, initialAnswer, description string, initialPrice int64, categories []string) (domain.Question, error)
	SubmitTrade(ctx context.Context, questionID int64, trader, answer, description string) (service.TradeResult, error)
	GetQuestion(ctx context.Context, id int64) (domain.Question, error)
	ListQuestions(ctx context.Context, opts domain.ListOpts) ([]domain.Question, error)
	ListTrades(ctx context.Context, questionID int64, opts domain.ListOpts) ([]domain.Trade, error)
	SetQuestionActive(ctx context.Context, id int64, active bool) error
}

// QuestionHandler serves question and trade HTTP endpoints.
type QuestionHandler struct {
	questions QuestionService
	logger    *slog.Logger
}

// NewQuestionHandler creates a QuestionHandler with the given service and logger.
func NewQuestionHandler(questions QuestionService, logger *slog.Logger) *QuestionHandler {
	return &QuestionHandler{
		questions: questions,
		logger:    logger,
	}
}

type createQuestionRequest struct {
	Creator       string   `json:"creator"`
	Text          string   `json:"text"`
	InitialAnswer string   `json:"initial_answer"`
	Description   string   `json:"description"`
	InitialPrice  int64    `json:"initial_price"`
	Categories    []string `json:"categories"`
}

// CreateQuestion registers a new question.
// POST /api/questions
func (h *QuestionHandler) CreateQuestion(w http.ResponseWriter, r *http.Request) {
	var req createQuestionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	q, err := h.questions.CreateQuestion(r.Context(),
		req.Creator, req.Text, req.InitialAnswer, req.Description,
		req.InitialPrice, req.Categories)
	if err != nil {
		h.writeServiceError(w, r, "create question", err)
		return
	}

	writeJSON(w, http.StatusCreated, q)
}

// listQuestionsResponse wraps the list endpoint output with paging metadata.
type listQuestionsResponse struct {
	Questions []domain.Question `json:"questions"`
	Limit     int               `json:"limit"`
	Offset    int               `json:"offset"`
}

// ListQuestions returns active questions with pagination.
// GET /api/questions?limit=50&offset=0
func (h *QuestionHandler) ListQuestions(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	questions, err := h.questions.ListQuestions(r.Context(), opts)
	if err != nil {
		h.writeServiceError(w, r, "list questions", err)
		return
	}
	if questions == nil {
		questions = []domain.Question{}
	}

	writeJSON(w, http.StatusOK, listQuestionsResponse{
		Questions: questions,
		Limit:     opts.Limit,
		Offset:    opts.Offset,
	})
}

// GetQuestion returns a single question by its ID.
// GET /api/questions/{id}
func (h *QuestionHandler) GetQuestion(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	q, err := h.questions.GetQuestion(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, "get question", err)
		return
	}

	writeJSON(w, http.StatusOK, q)
}

type submitTradeRequest struct {
	Trader      string `json:"trader"`
	Answer      string `json:"answer"`
	Description string `json:"description"`
}

// SubmitTrade buys the question's answer slot at the current asking price.
// POST /api/questions/{id}/trades
func (h *QuestionHandler) SubmitTrade(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req submitTradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	result, err := h.questions.SubmitTrade(r.Context(), id, req.Trader, req.Answer, req.Description)
	if err != nil {
		h.writeServiceError(w, r, "submit trade", err)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

// listTradesResponse wraps the trade history output.
type listTradesResponse struct {
	Trades []domain.Trade `json:"trades"`
}

// ListTrades returns the question's trade history, newest first.
// GET /api/questions/{id}/trades
func (h *QuestionHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	trades, err := h.questions.ListTrades(r.Context(), id, parseListOpts(r))
	if err != nil {
		h.writeServiceError(w, r, "list trades", err)
		return
	}
	if trades == nil {
		trades = []domain.Trade{}
	}

	writeJSON(w, http.StatusOK, listTradesResponse{Trades: trades})
}

type setActiveRequest struct {
	Active bool `json:"active"`
}

// SetActive activates or deactivates a question.
// PATCH /api/questions/{id}/active
func (h *QuestionHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req setActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := h.questions.SetQuestionActive(r.Context(), id, req.Active); err != nil {
		h.writeServiceError(w, r, "set question active", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"question_id": id,
		"active":      req.Active,
	})
}

func (h *QuestionHandler) writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	writeDomainError(w, r, h.logger, op, err)
}

// pathID parses the {id} path parameter as an int64 and reports the failure
// to the client itself.
func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(pathParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}
