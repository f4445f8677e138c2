package banner

import (
	"fmt"
)

const banner = `
████████╗███████╗██████╗ ██████╗  █████╗  ██████╗██╗  ██╗ █████╗ ████████╗
╚══██╔══╝██╔════╝██╔══██╗██╔══██╗██╔══██╗██╔════╝██║  ██║██╔══██╗╚══██╔══╝
   ██║   █████╗  ██████╔╝██████╔╝███████║██║     ███████║███████║   ██║
   ██║   ██╔══╝  ██╔══██╗██╔══██╗██╔══██║██║     ██╔══██║██╔══██║   ██║
   ██║   ███████╗██║  ██║██║  ██║██║  ██║╚██████╗██║  ██║██║  ██║   ██║
   ╚═╝   ╚══════╝╚═╝  ╚═╝╚═╝  ╚═╝╚═╝  ╚═╝ ╚═════╝╚═╝  ╚═╝╚═╝  ╚═╝   ╚═╝
`

// PrintClient shows the CLI's startup summary.
func PrintClient(apiBase, wsURL, projectID, source, version string) {
	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("API:      %s\n", apiBase)
	fmt.Printf("Stream:   %s\n", wsURL)
	fmt.Printf("Project:  %s\n", projectID)
	if version != "" {
		fmt.Printf("Version:  %s\n", version)
	}
	fmt.Printf("Config:   %s\n", source)
	fmt.Println("\n== Commands ===================================================")
	fmt.Println("/new [title]        start a new conversation")
	fmt.Println("/threads            list conversations")
	fmt.Println("/open <thread-id>   switch to a conversation")
	fmt.Println("/older              load older messages")
	fmt.Println("/answer q1=... q2=  answer a pending clarification")
	fmt.Println("/quit               exit")
	fmt.Println("anything else is sent as a chat message")
}

// PrintStub shows the development backend's startup summary.
func PrintStub(addr, dbPath, source, version string) {
	fmt.Print(banner)
	fmt.Println("== Stub Backend ===============================================")
	fmt.Printf("Listen:   %s\n", addr)
	fmt.Printf("DB Path:  %s\n", dbPath)
	if version != "" {
		fmt.Printf("Version:  %s\n", version)
	}
	fmt.Printf("Config:   %s\n", source)
	fmt.Println("\n== Endpoints ==================================================")
	fmt.Println("POST /projects/{id}/terraform-chat/messages")
	fmt.Println("POST /projects/{id}/terraform-chat/clarifications/{thread}/respond")
	fmt.Println("GET  /projects/{id}/terraform-chat/history?thread_id=<id>&limit=<n>")
	fmt.Println("GET  /projects/{id}/terraform-chat/threads")
	fmt.Println("GET  /projects/{id}/generations/{generation}/files")
	fmt.Println("WS   /ws    GET /metrics    GET /docs/    GET /healthz")
}
