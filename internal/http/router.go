package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Router 使用标准库 http.ServeMux（避免引入第三方路由依赖）
// 每个请求都带截止时间，行锁等待和慢查询不会无限期挂住
type Router struct {
	mux            *http.ServeMux
	requestTimeout time.Duration
	logger         *zap.Logger
}

func NewRouter(requestTimeout time.Duration, logger *zap.Logger) *Router {
	return &Router{
		mux:            http.NewServeMux(),
		requestTimeout: requestTimeout,
		logger:         logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, func(w http.ResponseWriter, req *http.Request) {
		if r.requestTimeout > 0 {
			ctx, cancel := context.WithTimeout(req.Context(), r.requestTimeout)
			defer cancel()
			req = req.WithContext(ctx)
		}
		h(w, req)
	})
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// RegisterVerifyRoutes 校验与审计查询
func (r *Router) RegisterVerifyRoutes(h *VerifyHandler) {
	r.Handle("/api/v1/verify", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.VerifyBill(w, req)
	})

	r.Handle("/api/v1/verify/history", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.GetHistory(w, req)
	})

	r.Handle("/api/v1/verify/history/export", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.ExportHistory(w, req)
	})

	r.Handle("/api/v1/verify/stats", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.GetStats(w, req)
	})
}

// RegisterBillRoutes 开票和签发方工作台
func (r *Router) RegisterBillRoutes(h *BillHandler) {
	r.Handle("/api/v1/bills", func(w http.ResponseWriter, req *http.Request) {
		switch req.Method {
		case http.MethodPost:
			h.CreateBill(w, req)
		case http.MethodGet:
			h.ListBills(w, req)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})

	r.Handle("/api/v1/bills/stats", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.GetStats(w, req)
	})

	// bills/{id}
	r.Handle("/api/v1/bills/", func(w http.ResponseWriter, req *http.Request) {
		id := strings.TrimPrefix(req.URL.Path, "/api/v1/bills/")
		if id == "" || strings.Contains(id, "/") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		switch req.Method {
		case http.MethodGet:
			h.GetBill(w, req, id)
		case http.MethodDelete:
			h.DeleteBill(w, req, id)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
}

// RegisterUserRoutes 注册、概要和钱包
func (r *Router) RegisterUserRoutes(h *UserHandler) {
	r.Handle("/api/v1/users/register", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.Register(w, req)
	})

	r.Handle("/api/v1/users/me", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.GetProfile(w, req)
	})

	r.Handle("/api/v1/wallet/topup", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.TopUp(w, req)
	})
}

// RegisterHealthRoute 健康检查
func (r *Router) RegisterHealthRoute() {
	r.Handle("/healthz", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}
