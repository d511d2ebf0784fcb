package main

import (
	"log"
	"net/http"
	"os"
)

func main() {
	// Initialize database
	dbPath := "chat.db"
	addr := ":3001"
	if len(os.Args) > 1 {
		dbPath = os.Args[1]
	}
	if len(os.Args) > 2 {
		addr = os.Args[2]
	}

	db, err := NewDatabase(dbPath)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	defer db.Close()

	if err := db.CreateTables(); err != nil {
		log.Fatal("Failed to create tables:", err)
	}

	// Initialize server
	server := NewServer(db)

	// The sweeper keeps running even with zero connected clients
	server.sweeper.Start()

	// Setup routes
	mux := server.RegisterRoutes()

	// Add CORS middleware
	handler := corsMiddleware(mux)

	log.Println("Il Separatio server starting on " + addr)
	log.Println("WebSocket endpoint: ws://localhost" + addr + "/ws")

	if err := http.ListenAndServe(addr, handler); err != nil {
		log.Fatal("Server failed:", err)
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
