package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/qcom/accounts/internal/middleware"
	"github.com/sirupsen/logrus"
)

func NewRouter(
	authHandlers *AuthHandlers,
	authMiddleware *middleware.AuthMiddleware,
	corsOrigins []string,
	logger *logrus.Logger,
) *mux.Router {
	router := mux.NewRouter()

	router.Use(middleware.CORSMiddleware(corsOrigins))
	router.Use(middleware.LoggingMiddleware(logger))

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET", "OPTIONS")

	user := router.PathPrefix("/api/v1/user").Subrouter()
	user.HandleFunc("/register", authHandlers.Register).Methods("POST", "OPTIONS")
	user.HandleFunc("/otp", authHandlers.VerifyOTP).Methods("POST", "OPTIONS")
	user.HandleFunc("/login", authHandlers.Login).Methods("POST", "OPTIONS")
	user.HandleFunc("/password/forgot", authHandlers.ForgotPassword).Methods("POST", "OPTIONS")
	user.HandleFunc("/password/reset/{token}", authHandlers.ResetPassword).Methods("PUT", "OPTIONS")

	user.Handle("/logout", authMiddleware.RequireAuth(http.HandlerFunc(authHandlers.Logout))).Methods("GET", "OPTIONS")
	user.Handle("/me", authMiddleware.RequireAuth(http.HandlerFunc(authHandlers.GetCurrentUser))).Methods("GET", "OPTIONS")

	return router
}
