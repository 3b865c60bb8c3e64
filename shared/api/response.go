package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
)

// JSONErrorResponse is the body of every error response.
type JSONErrorResponse struct {
	Message string `json:"message"`
	Code    int    `json:"code,omitempty"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteOK writes data with status 200 and logs encoding failures.
func WriteOK(w http.ResponseWriter, data any) {
	if err := WriteJSON(w, http.StatusOK, data); err != nil {
		log.Printf("ERROR: Failed to write JSON response: %v", err)
	}
}

// WriteError writes a JSON error response with the given status code and message.
func WriteError(w http.ResponseWriter, status int, message string) {
	if err := WriteJSON(w, status, JSONErrorResponse{Message: message, Code: status}); err != nil {
		log.Printf("ERROR: Failed to write JSON error response: %v", err)
	}
}

// ErrorStatus reports errors matching Err with Status.
type ErrorStatus struct {
	Err    error
	Status int
}

// WriteServiceError writes err with the status of the first entry in statuses
// it matches through errors.Is, using the error text as the message. Anything
// unmatched is logged and answered with a 500 carrying only message, so
// storage details stay out of the response.
func WriteServiceError(w http.ResponseWriter, err error, message string, statuses ...ErrorStatus) {
	for _, s := range statuses {
		if errors.Is(err, s.Err) {
			WriteError(w, s.Status, err.Error())
			return
		}
	}
	log.Printf("ERROR: %s: %v", message, err)
	WriteInternalServerError(w, message)
}

func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, message)
}

func WriteNotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, message)
}

func WriteInternalServerError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, message)
}
