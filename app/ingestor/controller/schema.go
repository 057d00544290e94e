package controller

import (
	"net/http"

	indexermodels "github.com/canopy-network/ingestx/pkg/db/models/indexer"
	"github.com/canopy-network/ingestx/pkg/indexer"
	"github.com/canopy-network/ingestx/pkg/schema"
	"github.com/go-jose/go-jose/v4/json"
	"github.com/gorilla/mux"
)

type schemaPreview struct {
	Plan indexermodels.TablePlan `json:"schema"`
	SQL  []string                `json:"sql"`
}

// HandleSchemaPreview returns the table a category would provision. A POST body may carry
// a configuration and a custom schema to preview.
func (c *Controller) HandleSchemaPreview(w http.ResponseWriter, r *http.Request) {
	var in indexer.Input
	if r.Method == http.MethodPost && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeError(w, http.StatusBadRequest, "bad json")
			return
		}
	}

	plan, err := indexer.Preview(mux.Vars(r)["category"], in.CustomSchema, in.Configuration)
	if err != nil {
		c.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, schemaPreview{Plan: plan, SQL: schema.ProvisionSQL(plan)})
}
