// Command issue-token mints a bearer token for operators and schedulers that call /internal routes.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/mmdatafocus/rift_backend/models"
	"github.com/mmdatafocus/rift_backend/utils"
)

func main() {
	userID := flag.String("user-id", "", "Required: subject of the token")
	role := flag.String("role", string(models.RoleSystem), "USER, ADMIN or SYSTEM")
	flag.Parse()

	if strings.TrimSpace(*userID) == "" {
		fmt.Fprintln(os.Stderr, "--user-id is required")
		os.Exit(1)
	}
	r := models.Role(strings.ToUpper(strings.TrimSpace(*role)))
	if !r.IsValid() {
		fmt.Fprintf(os.Stderr, "unknown role %q\n", *role)
		os.Exit(1)
	}
	tok, err := utils.JwtGenerate(*userID, string(r))
	if err != nil {
		fmt.Fprintf(os.Stderr, "issue token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(tok)
}
