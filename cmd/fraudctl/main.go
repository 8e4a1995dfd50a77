// ABOUTME: Operator CLI for fraudgate: submit cases, inspect records, fetch signals
// ABOUTME: Talks plain HTTP to a running server; signals walks the 402 handshake manually

package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/latchline/fraudgate/internal/gateway"
	"github.com/latchline/fraudgate/internal/paywall"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	baseURL := "http://localhost:8402"
	if host := os.Getenv("FRAUDGATE_HOST"); host != "" {
		baseURL = "http://" + host
	}

	var err error
	switch os.Args[1] {
	case "submit":
		err = cmdSubmit(baseURL, os.Args[2:])
	case "show":
		err = cmdShow(baseURL, os.Args[2:])
	case "signals":
		err = cmdSignals(baseURL, os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: fraudctl <command> [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  submit   Submit a case for review and wait for the verdict")
	fmt.Println("  show     Dump a case record with its full audit trail")
	fmt.Println("  signals  Fetch a paywalled signal by hand (402 -> pay -> retry)")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  FRAUDGATE_HOST   server host:port (default localhost:8402)")
}

// cmdSubmit creates a case and polls it to a terminal status.
func cmdSubmit(baseURL string, args []string) error {
	fs := flag.NewFlagSet("submit", flag.ExitOnError)
	amount := fs.Float64("amount", 0, "transaction amount")
	currency := fs.String("currency", "USD", "transaction currency")
	subject := fs.String("subject", "", "subject (payer) id")
	counterparty := fs.String("counterparty", "", "counterparty (merchant) id")
	timeout := fs.Duration("timeout", 2*time.Minute, "how long to wait for the verdict")
	fs.Parse(args)

	if *amount <= 0 || *subject == "" || *counterparty == "" {
		return fmt.Errorf("submit requires --amount, --subject, and --counterparty")
	}

	var created gateway.CaseResponse
	err := postJSON(baseURL+"/api/cases", gateway.CreateCaseRequest{
		Amount:         *amount,
		Currency:       *currency,
		SubjectID:      *subject,
		CounterpartyID: *counterparty,
	}, &created)
	if err != nil {
		return err
	}
	fmt.Printf("Case %s submitted (%s %.2f)\n", created.ID, created.Currency, created.Amount)

	deadline := time.Now().Add(*timeout)
	lastStage := ""
	for time.Now().Before(deadline) {
		var detail gateway.CaseDetailResponse
		if err := getJSON(baseURL+"/api/cases/"+created.ID, nil, &detail); err != nil {
			return err
		}
		if detail.Case.Stage != lastStage {
			lastStage = detail.Case.Stage
			fmt.Printf("  stage: %s\n", lastStage)
		}
		if detail.Case.Status != "PROCESSING" {
			return printVerdict(baseURL, &detail)
		}
		time.Sleep(250 * time.Millisecond)
	}
	return fmt.Errorf("timed out waiting for a verdict on case %s", created.ID)
}

func printVerdict(baseURL string, detail *gateway.CaseDetailResponse) error {
	fmt.Println()
	if detail.Case.Status == "FAILED" {
		color.Red("✗ Case FAILED: %s", detail.Case.Reasoning)
		return nil
	}

	var verdict gateway.VerdictResponse
	if err := getJSON(baseURL+"/api/cases/"+detail.Case.ID+"/verdict", nil, &verdict); err != nil {
		return err
	}
	if verdict.Decision == "APPROVE" {
		color.Green("✓ APPROVE (confidence %.2f)", verdict.Confidence)
	} else {
		color.Red("✗ DENY (confidence %.2f)", verdict.Confidence)
	}
	fmt.Printf("  %s\n", verdict.Reasoning)
	fmt.Printf("  signal spend: $%.2f across %d signal(s)\n", verdict.TotalCost, len(detail.Signals))
	return nil
}

// cmdShow dumps the case record with its audit trail.
func cmdShow(baseURL string, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("show requires a case id")
	}
	caseID := args[0]

	var detail gateway.CaseDetailResponse
	if err := getJSON(baseURL+"/api/cases/"+caseID, nil, &detail); err != nil {
		return err
	}

	c := detail.Case
	fmt.Printf("Case %s\n", c.ID)
	fmt.Printf("  subject=%s counterparty=%s amount=%s %.2f\n", c.SubjectID, c.CounterpartyID, c.Currency, c.Amount)
	fmt.Printf("  status=%s stage=%s cost=$%.2f\n", c.Status, c.Stage, c.TotalCost)
	if c.FinalDecision != "" {
		fmt.Printf("  verdict=%s\n", c.FinalDecision)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "\nSTEP\tAGENT\tACTION\tDURATION")
	for _, s := range detail.Steps {
		fmt.Fprintf(w, "%d\t%s\t%s\t%dms\n", s.StepNumber, s.AgentName, s.Action, s.DurationMS)
	}
	fmt.Fprintln(w, "\nAGENT\tDECISION\tCONFIDENCE\tFINAL")
	for _, d := range detail.Decisions {
		fmt.Fprintf(w, "%s\t%s\t%.2f\t%v\n", d.AgentName, d.Action, d.Confidence, d.IsFinal)
	}
	fmt.Fprintln(w, "\nSIGNAL\tCOST\tPURCHASED BY")
	for _, s := range detail.Signals {
		fmt.Fprintf(w, "%s\t$%.2f\t%s\n", s.SignalType, s.Cost, s.PurchasedBy)
	}
	return w.Flush()
}

// cmdSignals fetches one signal by hand, paying if the paywall asks.
func cmdSignals(baseURL string, args []string) error {
	fs := flag.NewFlagSet("signals", flag.ExitOnError)
	subject := fs.String("subject", "", "subject id")
	caseID := fs.String("case", "", "case id")
	propose := fs.Float64("propose", 0, "proposed discounted price")
	pitch := fs.String("pitch", "", "negotiation pitch")
	fs.Parse(args)

	if fs.NArg() < 1 {
		return fmt.Errorf("signals requires a signal type argument")
	}
	signalType := fs.Arg(0)
	if *subject == "" || *caseID == "" {
		return fmt.Errorf("signals requires --subject and --case")
	}

	params := url.Values{"subjectId": {*subject}, "caseId": {*caseID}}
	if *propose > 0 {
		params.Set("proposedPrice", fmt.Sprintf("%g", *propose))
		params.Set("negotiationPitch", *pitch)
	}
	signalURL := baseURL + "/signals/" + signalType + "?" + params.Encode()

	// First attempt, expecting either a cache hit or a quote
	status, body, err := doGet(signalURL, "")
	if err != nil {
		return err
	}
	if status == http.StatusOK {
		color.Yellow("cached, no charge")
		return printSignal(body)
	}
	if status != http.StatusPaymentRequired {
		return fmt.Errorf("unexpected status %d: %s", status, body)
	}

	var quote paywall.PaymentRequiredResponse
	if err := json.Unmarshal(body, &quote); err != nil {
		return fmt.Errorf("decoding quote: %w", err)
	}
	amount := quote.Amount
	if *propose > 0 {
		amount = *propose
	}
	fmt.Printf("quoted $%.2f for %s, paying $%.2f\n", quote.Amount, signalType, amount)

	var payment paywall.CreatePaymentResponse
	err = postJSON(baseURL+"/payments", paywall.CreatePaymentRequest{
		Amount:     amount,
		SignalType: signalType,
		CaseID:     *caseID,
		AgentName:  "fraudctl",
	}, &payment)
	if err != nil {
		return err
	}

	status, body, err = doGet(signalURL, payment.PaymentProof)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("proofed retry failed with %d: %s", status, body)
	}
	return printSignal(body)
}

func printSignal(body []byte) error {
	var sig paywall.SignalResponse
	if err := json.Unmarshal(body, &sig); err != nil {
		return fmt.Errorf("decoding signal: %w", err)
	}
	color.Green("✓ %s signal %s (charged $%.2f, cached=%v)", sig.SignalType, sig.SignalID, sig.ActualCost, sig.Cached)
	pretty, err := json.MarshalIndent(sig.Data, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(pretty))
	return nil
}

func doGet(rawURL, proof string) (int, []byte, error) {
	req, err := http.NewRequest(http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, nil, err
	}
	if proof != "" {
		req.Header.Set("X-Payment-Proof", proof)
	}
	req.Header.Set("X-Agent-Name", "fraudctl")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	return resp.StatusCode, body, err
}

func getJSON(rawURL string, headers map[string]string, out any) error {
	req, err := http.NewRequest(http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s: %d %s", rawURL, resp.StatusCode, body)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func postJSON(rawURL string, in, out any) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Post(rawURL, "application/json", bytes.NewReader(raw))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s: %d %s", rawURL, resp.StatusCode, body)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
