package main

import (
	"net/http"
	"strings"

	"github.com/PaulBabatuyi/fieldsync/internal/data"
)

type createFAQRequest struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Category string `json:"category"`
}

func (s *Server) handleListFAQs(w http.ResponseWriter, r *http.Request) error {
	faqs, err := s.faqs.List(r.Context())
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, faqs)
	return nil
}

func (s *Server) handleCreateFAQ(w http.ResponseWriter, r *http.Request) error {
	var req createFAQRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		return err
	}
	if strings.TrimSpace(req.Question) == "" || strings.TrimSpace(req.Answer) == "" {
		return errBadRequest("question and answer are required")
	}
	faq, err := s.faqs.Create(r.Context(), &data.FAQItem{
		Question:  req.Question,
		Answer:    req.Answer,
		Category:  req.Category,
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, faq)
	return nil
}
