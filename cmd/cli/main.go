package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/google/uuid"
)

type reservationRow struct {
	ID             int64  `json:"id"`
	GuestID        int64  `json:"guestId"`
	ApartmentID    int64  `json:"apartmentId"`
	StartDate      string `json:"startDate"`
	EndDate        string `json:"endDate"`
	Status         string `json:"status"`
	ApartmentTitle string `json:"apartmentTitle"`
	GuestName      string `json:"guestName"`
	Days           int    `json:"days"`
	TotalPrice     string `json:"totalPrice"`
}

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(1)
	}

	c := newClient()
	command := os.Args[1]
	args := os.Args[2:]

	var err error
	switch command {
	case "auth":
		err = handleAuth(c, args)
	case "apartment":
		err = handleApartment(c, args)
	case "reservation":
		err = handleReservation(c, args)
	case "help":
		printUsage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", command)
		printUsage(os.Stderr)
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "✗ %v\n", err)
		os.Exit(1)
	}
}

func handleAuth(c *client, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: mini-airbnb auth <register|login|logout|who>")
	}

	switch args[0] {
	case "register":
		return registerUser(c, args[1:])
	case "login":
		return loginUser(c, args[1:])
	case "logout":
		if err := c.clearToken(); err != nil {
			return err
		}
		fmt.Println("✓ Logged out")
		return nil
	case "who":
		return whoAmI(c)
	default:
		return fmt.Errorf("unknown auth command: %s", args[0])
	}
}

func handleApartment(c *client, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: mini-airbnb apartment <list>")
	}

	switch args[0] {
	case "list":
		return listApartments(c, os.Stdout)
	default:
		return fmt.Errorf("unknown apartment command: %s", args[0])
	}
}

func handleReservation(c *client, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: mini-airbnb reservation <book|cancel|mine|all|show>")
	}

	switch args[0] {
	case "book":
		return bookReservation(c, args[1:])
	case "cancel":
		id, err := idArg(args[1:], "cancel")
		if err != nil {
			return err
		}
		if _, err := c.do(http.MethodDelete, "/reservations/"+id, nil, nil, nil); err != nil {
			return err
		}
		fmt.Printf("✓ Reservation %s cancelled\n", id)
		return nil
	case "mine":
		var rows []reservationRow
		if _, err := c.do(http.MethodGet, "/reservations/my", nil, nil, &rows); err != nil {
			return err
		}
		printReservations(os.Stdout, rows)
		return nil
	case "all":
		return listAllReservations(c, args[1:])
	case "show":
		id, err := idArg(args[1:], "show")
		if err != nil {
			return err
		}
		var row reservationRow
		if _, err := c.do(http.MethodGet, "/reservations/"+id, nil, nil, &row); err != nil {
			return err
		}
		printReservations(os.Stdout, []reservationRow{row})
		return nil
	default:
		return fmt.Errorf("unknown reservation command: %s", args[0])
	}
}

// Auth commands
func registerUser(c *client, args []string) error {
	fs := flag.NewFlagSet("register", flag.ContinueOnError)
	name := fs.String("name", "", "display name")
	email := fs.String("email", "", "user email")
	password := fs.String("password", "", "password (at least 8 characters)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var result struct {
		Token string `json:"token"`
	}
	payload := map[string]string{"name": *name, "email": *email, "password": *password}
	if _, err := c.do(http.MethodPost, "/auth/register", payload, nil, &result); err != nil {
		return err
	}
	if err := c.saveToken(result.Token); err != nil {
		return err
	}
	fmt.Printf("✓ User registered: %s\n", *email)
	return nil
}

func loginUser(c *client, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	email := fs.String("email", "", "user email")
	password := fs.String("password", "", "password")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var result struct {
		Token string `json:"token"`
	}
	payload := map[string]string{"email": *email, "password": *password}
	if _, err := c.do(http.MethodPost, "/auth/login", payload, nil, &result); err != nil {
		return err
	}
	if err := c.saveToken(result.Token); err != nil {
		return err
	}
	fmt.Printf("✓ Logged in as: %s\n", *email)
	return nil
}

func whoAmI(c *client) error {
	var me struct {
		ID    int64  `json:"id"`
		Name  string `json:"name"`
		Email string `json:"email"`
		Role  string `json:"role"`
	}
	if _, err := c.do(http.MethodGet, "/auth/me", nil, nil, &me); err != nil {
		return err
	}
	fmt.Printf("✓ %s <%s> (id %d, role %s)\n", me.Name, me.Email, me.ID, me.Role)
	return nil
}

// Apartment commands
func listApartments(c *client, out io.Writer) error {
	var apartments []struct {
		ID          int64  `json:"id"`
		Title       string `json:"title"`
		Location    string `json:"location"`
		Price       string `json:"price"`
		IsAvailable bool   `json:"isAvailable"`
	}
	if _, err := c.do(http.MethodGet, "/apartments", nil, nil, &apartments); err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tLOCATION\tPRICE\tAVAILABLE")
	for _, a := range apartments {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%t\n", a.ID, a.Title, a.Location, a.Price, a.IsAvailable)
	}
	return w.Flush()
}

// Reservation commands
func bookReservation(c *client, args []string) error {
	fs := flag.NewFlagSet("book", flag.ContinueOnError)
	apartment := fs.Int64("apartment", 0, "apartment ID")
	start := fs.String("start", "", "check-in date (YYYY-MM-DD)")
	end := fs.String("end", "", "check-out date (YYYY-MM-DD), not a night of the stay")
	key := fs.String("key", "", "idempotency key; a random one is used when empty")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *key == "" {
		*key = uuid.NewString()
	}

	var result struct {
		Reservation reservationRow `json:"reservation"`
		Days        int            `json:"days"`
		TotalPrice  string         `json:"totalPrice"`
	}
	payload := map[string]any{"apartmentId": *apartment, "startDate": *start, "endDate": *end}
	headers, err := c.do(http.MethodPost, "/reservations", payload, map[string]string{"Idempotency-Key": *key}, &result)
	if err != nil {
		return err
	}

	replayed := ""
	if headers.Get("X-Idempotent-Replay") == "true" {
		replayed = " (already booked with this key)"
	}
	fmt.Printf("✓ Reservation %d: %d night(s), total %s%s\n", result.Reservation.ID, result.Days, result.TotalPrice, replayed)
	return nil
}

func listAllReservations(c *client, args []string) error {
	fs := flag.NewFlagSet("all", flag.ContinueOnError)
	status := fs.String("status", "", "filter by status (active|cancelled)")
	apartment := fs.Int64("apartment", 0, "filter by apartment ID")
	guest := fs.Int64("guest", 0, "filter by guest ID")
	if err := fs.Parse(args); err != nil {
		return err
	}

	q := url.Values{}
	if *status != "" {
		q.Set("status", *status)
	}
	if *apartment > 0 {
		q.Set("apartment_id", strconv.FormatInt(*apartment, 10))
	}
	if *guest > 0 {
		q.Set("guest_id", strconv.FormatInt(*guest, 10))
	}
	path := "/reservations"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var rows []reservationRow
	if _, err := c.do(http.MethodGet, path, nil, nil, &rows); err != nil {
		return err
	}
	printReservations(os.Stdout, rows)
	return nil
}

func printReservations(out io.Writer, rows []reservationRow) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tAPARTMENT\tGUEST\tCHECK-IN\tCHECK-OUT\tNIGHTS\tTOTAL\tSTATUS")
	for _, r := range rows {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			r.ID, r.ApartmentTitle, r.GuestName, day(r.StartDate), day(r.EndDate), r.Days, r.TotalPrice, r.Status)
	}
	w.Flush()
}

// day trims an RFC 3339 timestamp to its date
func day(ts string) string {
	if len(ts) >= 10 {
		return ts[:10]
	}
	return ts
}

func idArg(args []string, cmd string) (string, error) {
	if len(args) < 1 {
		return "", fmt.Errorf("usage: mini-airbnb reservation %s <reservation-id>", cmd)
	}
	if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
		return "", fmt.Errorf("invalid reservation id %q", args[0])
	}
	return args[0], nil
}

func printUsage(out io.Writer) {
	fmt.Fprint(out, `mini-airbnb CLI

Usage:
  mini-airbnb <command> [options]

Commands:
  auth         User authentication (register, login, logout, who)
  apartment    Apartment listings (list)
  reservation  Reservations (book, cancel, mine, show, all) - all requires admin
  help         Show this help message

Environment Variables:
  MINI_AIRBNB_API         API endpoint (default: http://localhost:8080/api)
  MINI_AIRBNB_TOKEN_FILE  Where the session token is kept (default: ~/.mini-airbnb/token)

Examples:
  mini-airbnb auth register -name Ana -email ana@example.com -password secret123
  mini-airbnb apartment list
  mini-airbnb reservation book -apartment 3 -start 2025-01-05 -end 2025-01-10
  mini-airbnb reservation all -status active -apartment 3
`)
}
