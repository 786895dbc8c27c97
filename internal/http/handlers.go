package http

import (
	"net/http"

	"collectbook/internal/core"
)

type customerRequest struct {
	Code    string `json:"code"`
	Name    string `json:"name"`
	Contact string `json:"contact"`
	Phone   string `json:"phone"`
	Email   string `json:"email"`
}

func (req customerRequest) customer() core.Customer {
	return core.Customer{
		Code:    sanitizeInput(req.Code),
		Name:    sanitizeInput(req.Name),
		Contact: sanitizeInput(req.Contact),
		Phone:   sanitizeInput(req.Phone),
		Email:   sanitizeInput(req.Email),
	}
}

type siteRequest struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

type contractRequest struct {
	CustomerID int64               `json:"customer_id"`
	Number     string              `json:"number"`
	Title      string              `json:"title"`
	Amount     amountInput         `json:"amount"`
	SignedOn   core.Date           `json:"signed_on"`
	StartDate  core.Date           `json:"start_date"`
	EndDate    core.Date           `json:"end_date"`
	Status     core.ContractStatus `json:"status"`
}

func (req contractRequest) contract() (core.Contract, error) {
	amount, err := req.Amount.decimal()
	if err != nil {
		return core.Contract{}, err
	}
	return core.Contract{
		CustomerID: req.CustomerID,
		Number:     sanitizeInput(req.Number),
		Title:      sanitizeInput(req.Title),
		Amount:     amount,
		SignedOn:   req.SignedOn,
		StartDate:  req.StartDate,
		EndDate:    req.EndDate,
		Status:     req.Status,
	}, nil
}

// Customers

func (s *Server) handleListCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := s.records.ListCustomers(r.Context())
	if err != nil {
		respondError(w, r, "list_customers", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(customers))
}

func (s *Server) handleCreateCustomer(w http.ResponseWriter, r *http.Request) {
	var req customerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, "create_customer", err)
		return
	}
	c, err := s.records.CreateCustomer(r.Context(), req.customer())
	if err != nil {
		respondError(w, r, "create_customer", err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleGetCustomer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, r, "get_customer", err)
		return
	}
	c, err := s.records.GetCustomer(r.Context(), id)
	if err != nil {
		respondError(w, r, "get_customer", err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleUpdateCustomer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, r, "update_customer", err)
		return
	}
	var req customerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, "update_customer", err)
		return
	}
	c := req.customer()
	c.ID = id
	if err := s.records.UpdateCustomer(r.Context(), c); err != nil {
		respondError(w, r, "update_customer", err)
		return
	}
	updated, err := s.records.GetCustomer(r.Context(), id)
	if err != nil {
		respondError(w, r, "update_customer", err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteCustomer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, r, "delete_customer", err)
		return
	}
	if err := s.records.DeleteCustomer(r.Context(), id); err != nil {
		respondError(w, r, "delete_customer", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListCustomerContracts(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, r, "list_contracts", err)
		return
	}
	if _, err := s.records.GetCustomer(r.Context(), id); err != nil {
		respondError(w, r, "list_contracts", err)
		return
	}
	contracts, err := s.records.ListContracts(r.Context(), id)
	if err != nil {
		respondError(w, r, "list_contracts", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(contracts))
}

// Sites

func (s *Server) handleListSites(w http.ResponseWriter, r *http.Request) {
	sites, err := s.records.ListSites(r.Context())
	if err != nil {
		respondError(w, r, "list_sites", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(sites))
}

func (s *Server) handleCreateSite(w http.ResponseWriter, r *http.Request) {
	var req siteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, "create_site", err)
		return
	}
	site, err := s.records.CreateSite(r.Context(), core.Site{
		Code: sanitizeInput(req.Code),
		Name: sanitizeInput(req.Name),
	})
	if err != nil {
		respondError(w, r, "create_site", err)
		return
	}
	writeJSON(w, http.StatusCreated, site)
}

func (s *Server) handleGetSite(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, r, "get_site", err)
		return
	}
	site, err := s.records.GetSite(r.Context(), id)
	if err != nil {
		respondError(w, r, "get_site", err)
		return
	}
	writeJSON(w, http.StatusOK, site)
}

// Contracts

func (s *Server) handleListContracts(w http.ResponseWriter, r *http.Request) {
	customerID, err := queryID(r.URL.Query(), "customer_id")
	if err != nil {
		respondError(w, r, "list_contracts", err)
		return
	}
	contracts, err := s.records.ListContracts(r.Context(), customerID)
	if err != nil {
		respondError(w, r, "list_contracts", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(contracts))
}

func (s *Server) handleCreateContract(w http.ResponseWriter, r *http.Request) {
	var req contractRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, "create_contract", err)
		return
	}
	c, err := req.contract()
	if err != nil {
		respondError(w, r, "create_contract", err)
		return
	}
	created, err := s.records.CreateContract(r.Context(), c)
	if err != nil {
		respondError(w, r, "create_contract", err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// handleGetContract returns the contract with collected and outstanding amounts.
func (s *Server) handleGetContract(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, r, "get_contract", err)
		return
	}
	summary, err := s.records.ContractSummary(r.Context(), id)
	if err != nil {
		respondError(w, r, "get_contract", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleUpdateContract(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, r, "update_contract", err)
		return
	}
	var req contractRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, "update_contract", err)
		return
	}
	c, err := req.contract()
	if err != nil {
		respondError(w, r, "update_contract", err)
		return
	}
	c.ID = id
	if c.Status == "" {
		c.Status = core.ContractActive
	}
	if err := s.records.UpdateContract(r.Context(), c); err != nil {
		respondError(w, r, "update_contract", err)
		return
	}
	summary, err := s.records.ContractSummary(r.Context(), id)
	if err != nil {
		respondError(w, r, "update_contract", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleDeleteContract(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, r, "delete_contract", err)
		return
	}
	if err := s.records.DeleteContract(r.Context(), id); err != nil {
		respondError(w, r, "delete_contract", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// nonNil keeps empty lists rendering as [] instead of null.
func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
