package controller

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	indexermodels "github.com/canopy-network/ingestx/pkg/db/models/indexer"
	"github.com/canopy-network/ingestx/pkg/db/postgres/registry"
	"github.com/go-jose/go-jose/v4/json"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

type connectionInput struct {
	Name       string                   `json:"name"`
	Host       string                   `json:"host"`
	Port       int                      `json:"port"`
	Database   string                   `json:"database"`
	Username   string                   `json:"username"`
	Password   string                   `json:"password"`
	SSLEnabled bool                     `json:"ssl_enabled"`
	SSLConfig  *indexermodels.SSLConfig `json:"ssl_config,omitempty"`
}

func (in connectionInput) validate(requireName bool) error {
	switch {
	case requireName && strings.TrimSpace(in.Name) == "":
		return fmt.Errorf("name is required")
	case strings.TrimSpace(in.Host) == "":
		return fmt.Errorf("host is required")
	case strings.TrimSpace(in.Database) == "":
		return fmt.Errorf("database is required")
	case in.Port < 0 || in.Port > 65535:
		return fmt.Errorf("port %d out of range", in.Port)
	}
	return nil
}

func (in connectionInput) apply(desc *indexermodels.DatabaseConnection) {
	desc.Name = strings.TrimSpace(in.Name)
	desc.Host = strings.TrimSpace(in.Host)
	desc.Port = in.Port
	desc.Database = strings.TrimSpace(in.Database)
	desc.Username = in.Username
	if in.Password != "" {
		desc.Password = in.Password
	}
	desc.SSLEnabled = in.SSLEnabled
	desc.SSLConfig = in.SSLConfig
}

func decodeConnection(r *http.Request, requireName bool) (connectionInput, error) {
	var in connectionInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		return in, fmt.Errorf("bad json: %w", err)
	}
	return in, in.validate(requireName)
}

// loadConnection returns the connection when the caller may see it.
func (c *Controller) loadConnection(ctx context.Context, r *http.Request) (*indexermodels.DatabaseConnection, error) {
	id := mux.Vars(r)["id"]
	desc, err := c.Connections.GetConnection(ctx, id)
	if err != nil {
		return nil, err
	}
	if o := owner(r); o != "" && desc.Owner != o {
		return nil, fmt.Errorf("connection %s: %w", id, registry.ErrNotFound)
	}
	return desc, nil
}

func (c *Controller) HandleConnectionsList(w http.ResponseWriter, r *http.Request) {
	list, err := c.Connections.ListConnections(r.Context(), owner(r))
	if err != nil {
		c.fail(w, r, err)
		return
	}
	out := make([]indexermodels.DatabaseConnection, 0, len(list))
	for _, desc := range list {
		out = append(out, desc.Redacted())
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleConnectionCreate stores a connection after checking it reaches a live database.
func (c *Controller) HandleConnectionCreate(w http.ResponseWriter, r *http.Request) {
	in, err := decodeConnection(r, true)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	desc := indexermodels.DatabaseConnection{
		ID:       uuid.NewString(),
		Owner:    owner(r),
		IsActive: true,
	}
	in.apply(&desc)

	if err := c.Verify(r.Context(), desc); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := c.Connections.CreateConnection(r.Context(), &desc); err != nil {
		c.fail(w, r, err)
		return
	}
	c.Logger.Info("Connection created", zap.String("connection_id", desc.ID), zap.String("host", desc.Host))
	writeJSON(w, http.StatusCreated, desc.Redacted())
}

func (c *Controller) HandleConnectionDetail(w http.ResponseWriter, r *http.Request) {
	desc, err := c.loadConnection(r.Context(), r)
	if err != nil {
		c.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, desc.Redacted())
}

// HandleConnectionPatch replaces the connection details. An empty password keeps the stored one.
// Cached handles are dropped so the next write uses the new details.
func (c *Controller) HandleConnectionPatch(w http.ResponseWriter, r *http.Request) {
	desc, err := c.loadConnection(r.Context(), r)
	if err != nil {
		c.fail(w, r, err)
		return
	}
	in, err := decodeConnection(r, true)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	in.apply(desc)

	if err := c.Verify(r.Context(), *desc); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := c.Connections.UpdateConnection(r.Context(), desc); err != nil {
		c.fail(w, r, err)
		return
	}
	c.Slots.Release(desc.Key())
	writeJSON(w, http.StatusOK, desc.Redacted())
}

// HandleConnectionDelete refuses to remove a connection that indexers still write through.
func (c *Controller) HandleConnectionDelete(w http.ResponseWriter, r *http.Request) {
	desc, err := c.loadConnection(r.Context(), r)
	if err != nil {
		c.fail(w, r, err)
		return
	}
	if err := c.Connections.DeleteConnection(r.Context(), desc.ID); err != nil {
		c.fail(w, r, err)
		return
	}
	c.Slots.Release(desc.Key())
	w.WriteHeader(http.StatusNoContent)
}

// HandleConnectionTest checks connection details without saving them.
func (c *Controller) HandleConnectionTest(w http.ResponseWriter, r *http.Request) {
	in, err := decodeConnection(r, false)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var desc indexermodels.DatabaseConnection
	in.apply(&desc)
	if err := c.Verify(r.Context(), desc); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
