package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(handler *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(Logger)
	r.Use(Recoverer)
	r.Use(Timeout)
	r.Use(CORS)

	r.Get("/healthz", handler.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(Tenant)

		r.Get("/fuel-types", handler.ListFuelTypes)
		r.Post("/fuel-types", handler.CreateFuelType)
		r.Post("/fuel-types/{id}/rates", handler.SetRate)
		r.Get("/fuel-types/{id}/rates/current", handler.CurrentRate)

		r.Post("/pumps", handler.CreatePump)
		r.Post("/nozzles", handler.CreateNozzle)

		r.Get("/shifts", handler.ListShifts)
		r.Post("/shifts/open", handler.OpenShift)
		r.Get("/shifts/active", handler.ActiveShift)
		r.Get("/shifts/{id}", handler.GetShift)
		r.Post("/shifts/{id}/close", handler.CloseShift)
		r.Post("/shifts/{id}/sales", handler.RecordSale)
		r.Get("/shifts/{id}/sales", handler.ListSales)
		r.Post("/sales/{id}/void", handler.VoidSale)

		r.Get("/tanks", handler.ListTanks)
		r.Post("/tanks", handler.CreateTank)
		r.Get("/tanks/{id}", handler.GetTank)
		r.Delete("/tanks/{id}", handler.DeleteTank)
		r.Post("/tanks/{id}/stock-in", handler.StockIn)
		r.Post("/tanks/{id}/adjustment", handler.Adjustment)
		r.Post("/tanks/{id}/dispense", handler.Dispense)

		r.Get("/stock/history", handler.StockHistory)
		r.Get("/stock/report", handler.MovementReport)
		r.Post("/stock/import-deliveries", handler.ImportDeliveries)

		r.Get("/actions", handler.ListActions)
	})

	return r
}
