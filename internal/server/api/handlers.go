package api

import (
	"errors"
	"net/http"

	"github.com/atlanticdynamic/customjwt/internal/customizer"
	"github.com/atlanticdynamic/customjwt/internal/deployment"
	"github.com/atlanticdynamic/customjwt/internal/deployment/transaction"
	"github.com/atlanticdynamic/customjwt/internal/issuer"
	"github.com/atlanticdynamic/customjwt/internal/sandbox"
	"github.com/atlanticdynamic/customjwt/internal/sandbox/dryrun"
	"github.com/atlanticdynamic/customjwt/internal/store"
)

func invalid(err error) error {
	return sandbox.NewScriptError(sandbox.ErrInvalidInput, err.Error()).WithCause(err)
}

func tokenTypeParam(r *http.Request) (customizer.TokenKey, error) {
	key, err := customizer.ParseTokenKey(r.PathValue("tokenType"))
	if err != nil {
		return "", invalid(err)
	}
	return key, nil
}

func (a *API) handleTest(w http.ResponseWriter, r *http.Request) {
	var req dryrun.Request
	if err := decode(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	claims, err := a.dryRun.Run(r.Context(), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, claims)
}

func (a *API) handleListCustomizers(w http.ResponseWriter, r *http.Request) {
	all, err := a.customizers.GetCustomizers(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, all.Configured())
}

func (a *API) handleGetCustomizer(w http.ResponseWriter, r *http.Request) {
	key, err := tokenTypeParam(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	entry, err := a.customizers.GetCustomizer(r.Context(), key)
	if errors.Is(err, store.ErrNotFound) {
		err = deployment.ErrCustomizerNotFound
	}
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// deployResponse reports the transaction that carried out a deploy or undeploy.
type deployResponse struct {
	Mode        deployment.Mode  `json:"mode"`
	Transaction transaction.View `json:"transaction"`
}

func (a *API) handleDeploy(w http.ResponseWriter, r *http.Request) {
	key, err := tokenTypeParam(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	useCase, err := customizer.ParseUseCase(r.PathValue("useCase"))
	if err != nil {
		a.writeError(w, r, invalid(err))
		return
	}
	var script customizer.Script
	if err := decode(w, r, &script); err != nil {
		a.writeError(w, r, err)
		return
	}

	tx, err := a.deployer.Deploy(r.Context(), key, useCase, script)
	a.writeTransaction(w, r, tx, err)
}

func (a *API) handleUndeploy(w http.ResponseWriter, r *http.Request) {
	key, err := tokenTypeParam(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	tx, err := a.deployer.Undeploy(r.Context(), key)
	a.writeTransaction(w, r, tx, err)
}

func (a *API) writeTransaction(w http.ResponseWriter, r *http.Request, tx *transaction.Transaction, err error) {
	if tx != nil {
		w.Header().Set("X-Transaction-ID", tx.ID.String())
	}
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, deployResponse{Mode: a.deployer.Mode(), Transaction: tx.View(false)})
}

func (a *API) handleListDeployments(w http.ResponseWriter, _ *http.Request) {
	txs := a.deployer.History().GetAll()
	views := make([]transaction.View, 0, len(txs))
	for i := len(txs) - 1; i >= 0; i-- {
		views = append(views, txs[i].View(false))
	}
	writeJSON(w, http.StatusOK, views)
}

func (a *API) handleGetDeployment(w http.ResponseWriter, r *http.Request) {
	tx := a.deployer.History().GetByID(r.PathValue("id"))
	if tx == nil {
		writeJSON(w, http.StatusNotFound, sandbox.ErrorBody{Message: "transaction not found"})
		return
	}
	writeJSON(w, http.StatusOK, tx.View(true))
}

func (a *API) handleIssue(w http.ResponseWriter, r *http.Request) {
	key, err := tokenTypeParam(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var req issuer.Request
	if err := decode(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	req.TokenType = key

	res, err := a.issuer.Issue(r.Context(), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleJWKS(w http.ResponseWriter, r *http.Request) {
	set, err := a.issuer.PublicKeys()
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=300")
	writeJSON(w, http.StatusOK, set)
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
