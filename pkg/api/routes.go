package api

import (
	"net/http"
	"sort"

	"github.com/gorilla/mux"

	"xswap/pkg/store"
	"xswap/pkg/types"
)

// Heights is the read side of the chain height tracker.
type Heights interface {
	All() map[string]uint64
}

type ChainHeight struct {
	ChainID string `json:"chain_id"`
	Height  uint64 `json:"height"`
}

// TransactionDetail is a transaction with its relay messages, primary first.
type TransactionDetail struct {
	types.Transaction
	Messages []types.RelayMessage `json:"messages"`
}

type routeHandlers struct {
	heights Heights
	stores  *store.Stores
}

func (rh *routeHandlers) getHeights(w http.ResponseWriter, r *http.Request) {
	all := rh.heights.All()
	out := make([]ChainHeight, 0, len(all))
	for id, h := range all {
		out = append(out, ChainHeight{ChainID: id, Height: h})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChainID < out[j].ChainID })
	writeOk(w, out)
}

func (rh *routeHandlers) listTransactions(w http.ResponseWriter, r *http.Request) {
	var txs []types.Transaction
	if status := r.URL.Query().Get("status"); status != "" {
		txs = rh.stores.Transactions.ListByStatus(types.TxStatus(status))
	} else {
		txs = rh.stores.Transactions.List()
	}
	if txs == nil {
		txs = []types.Transaction{}
	}
	writeOk(w, txs)
}

func (rh *routeHandlers) getTransaction(w http.ResponseWriter, r *http.Request) {
	params := mux.Vars(r)
	id := types.TransactionID(params["chain"], params["hash"])
	tx, err := rh.stores.Transactions.Get(id)
	if store.IsNotFound(err) {
		writeError(w, http.StatusNotFound, StatusNotFound, "transaction "+id+" not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, StatusError, err.Error())
		return
	}
	msgs := rh.stores.Messages.ListByTransaction(id)
	if msgs == nil {
		msgs = []types.RelayMessage{}
	}
	writeOk(w, TransactionDetail{Transaction: tx, Messages: msgs})
}

func (rh *routeHandlers) listIntents(w http.ResponseWriter, r *http.Request) {
	var orders []types.IntentOrder
	if status := r.URL.Query().Get("status"); status != "" {
		orders = rh.stores.Intents.ListByStatus(types.IntentStatus(status))
	} else {
		orders = rh.stores.Intents.List()
	}
	if orders == nil {
		orders = []types.IntentOrder{}
	}
	writeOk(w, orders)
}

func (rh *routeHandlers) getIntent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	order, err := rh.stores.Intents.Get(id)
	if store.IsNotFound(err) {
		writeError(w, http.StatusNotFound, StatusNotFound, "intent order "+id+" not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, StatusError, err.Error())
		return
	}
	writeOk(w, order)
}

func addRoutes(router *mux.Router, heights Heights, stores *store.Stores) {
	rh := &routeHandlers{heights: heights, stores: stores}
	router.HandleFunc("/heights", rh.getHeights).Methods(http.MethodGet)

	txs := router.PathPrefix("/transactions").Subrouter()
	txs.HandleFunc("", rh.listTransactions).Methods(http.MethodGet)
	txs.HandleFunc("/{chain}/{hash}", rh.getTransaction).Methods(http.MethodGet)

	intents := router.PathPrefix("/intents").Subrouter()
	intents.HandleFunc("", rh.listIntents).Methods(http.MethodGet)
	intents.HandleFunc("/{id}", rh.getIntent).Methods(http.MethodGet)
}
