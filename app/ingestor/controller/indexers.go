package controller

import (
	"net/http"

	"github.com/canopy-network/ingestx/pkg/indexer"
	"github.com/go-jose/go-jose/v4/json"
	"github.com/gorilla/mux"
)

func decodeInput(r *http.Request) (indexer.Input, error) {
	var in indexer.Input
	err := json.NewDecoder(r.Body).Decode(&in)
	return in, err
}

// HandleIndexersList returns the indexers visible to the caller.
func (c *Controller) HandleIndexersList(w http.ResponseWriter, r *http.Request) {
	list, err := c.Indexers.List(r.Context(), owner(r))
	if err != nil {
		c.fail(w, r, err)
		return
	}
	if list == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (c *Controller) HandleIndexerCreate(w http.ResponseWriter, r *http.Request) {
	in, err := decodeInput(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}
	idx, err := c.Indexers.Create(r.Context(), owner(r), in)
	if err != nil {
		c.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, idx)
}

func (c *Controller) HandleIndexerDetail(w http.ResponseWriter, r *http.Request) {
	idx, err := c.Indexers.Get(r.Context(), owner(r), mux.Vars(r)["id"])
	if err != nil {
		c.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, idx)
}

func (c *Controller) HandleIndexerPatch(w http.ResponseWriter, r *http.Request) {
	in, err := decodeInput(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}
	idx, err := c.Indexers.Update(r.Context(), owner(r), mux.Vars(r)["id"], in)
	if err != nil {
		c.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, idx)
}

func (c *Controller) HandleIndexerDelete(w http.ResponseWriter, r *http.Request) {
	if err := c.Indexers.Delete(r.Context(), owner(r), mux.Vars(r)["id"]); err != nil {
		c.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *Controller) HandleIndexerActivate(w http.ResponseWriter, r *http.Request) {
	idx, err := c.Indexers.Activate(r.Context(), owner(r), mux.Vars(r)["id"])
	if err != nil {
		c.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, idx)
}

func (c *Controller) HandleIndexerDeactivate(w http.ResponseWriter, r *http.Request) {
	idx, err := c.Indexers.Deactivate(r.Context(), owner(r), mux.Vars(r)["id"])
	if err != nil {
		c.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, idx)
}
