package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"landlord/internal/game"

	"github.com/Rhymond/go-money"
	"github.com/fatih/color"
	"golang.org/x/term"
)

var (
	stdinReader = bufio.NewReader(os.Stdin)
	accent      = color.New(color.FgCyan, color.Bold)
	success     = color.New(color.FgGreen, color.Bold)
	warn        = color.New(color.FgYellow, color.Bold)
	danger      = color.New(color.FgRed, color.Bold)
	neutral     = color.New(color.FgHiWhite)
)

type propertiesPayload struct {
	Properties []game.PropertyView `json:"properties"`
}

type escrowsPayload struct {
	Escrows []game.EscrowView `json:"escrows"`
}

type rentsPayload struct {
	Rents []game.RentView `json:"rents"`
}

type ledgerPayload struct {
	Entries []game.LedgerRow `json:"entries"`
}

type leaderboardPayload struct {
	Rows []game.LeaderboardRow `json:"rows"`
}

type syncPayload struct {
	Results []syncResult `json:"results"`
}

type syncResult struct {
	Path   string `json:"path"`
	Status string `json:"status"`
	Detail string `json:"detail"`
}

type tickPayload struct {
	WorldID      int64     `json:"world_id"`
	GameNow      time.Time `json:"game_now"`
	EscrowEvents int       `json:"escrow_events"`
	RentMonths   int       `json:"rent_months"`
	RentMicros   int64     `json:"rent_micros"`
	Revalued     int       `json:"revalued"`
	Regime       string    `json:"regime"`
	RegimeShift  bool      `json:"regime_shift"`
	Listed       int       `json:"listed"`
	BotInvests   int       `json:"bot_invests"`
	BotDivests   int       `json:"bot_divests"`
}

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func promptRequired(label string) (string, error) {
	for {
		fmt.Printf("%s: ", label)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.TrimSpace(text)
		if text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

func promptOptional(label string) (string, error) {
	fmt.Printf("%s: ", label)
	text, err := stdinReader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// promptPassword reads without echo so tokens and passwords stay off the
// terminal scrollback.
func promptPassword(label string) (string, error) {
	fmt.Printf("%s: ", label)
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return "", fmt.Errorf("%s is required", strings.ToLower(label))
	}
	return text, nil
}

func promptChoice(label string, options []string, defaultValue string) (string, error) {
	normalized := make(map[string]struct{}, len(options))
	for _, opt := range options {
		normalized[strings.ToLower(strings.TrimSpace(opt))] = struct{}{}
	}
	for {
		fmt.Printf("%s (%s) [%s]: ", label, strings.Join(options, "/"), defaultValue)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.ToLower(strings.TrimSpace(text))
		if text == "" {
			text = strings.ToLower(strings.TrimSpace(defaultValue))
		}
		if _, ok := normalized[text]; ok {
			return text, nil
		}
		printWarn("Invalid option. Please pick one of the listed values.")
	}
}

func promptFloat(label string, min float64) (float64, error) {
	for {
		text, err := promptRequired(label)
		if err != nil {
			return 0, err
		}
		v, err := strconv.ParseFloat(text, 64)
		if err != nil {
			printWarn("Enter a valid number.")
			continue
		}
		if v <= min {
			printWarn(fmt.Sprintf("Value must be > %.4f", min))
			continue
		}
		return v, nil
	}
}

func promptInt64(label string, min int64) (int64, error) {
	for {
		text, err := promptRequired(label)
		if err != nil {
			return 0, err
		}
		v, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			printWarn("Enter a whole number.")
			continue
		}
		if v < min {
			printWarn(fmt.Sprintf("Value must be >= %d", min))
			continue
		}
		return v, nil
	}
}

func renderDashboard(raw map[string]any) error {
	d, err := decodeInto[game.Dashboard](raw)
	if err != nil {
		return err
	}

	accent.Printf("\n== DASHBOARD (World %d) ==\n", d.WorldID)
	fmt.Printf("Game date: %s (x%.0f)\n", d.GameNow.Format("Jan 2, 2006"), d.TimeScale)
	downFromPeak := d.NetWorthMicros - d.PeakNetWorthMicros

	fmt.Printf("Balance:        %s\n", formatMicros(d.BalanceMicros))
	fmt.Printf("Holdings value: %s\n", formatMicros(d.HoldingsValueMicros))
	fmt.Printf("Held in escrow: %s\n", formatMicros(d.EscrowHeldMicros))
	fmt.Printf("Net Worth:      %s\n", formatMicros(d.NetWorthMicros))
	fmt.Printf("Peak Net Worth: %s\n", formatMicros(d.PeakNetWorthMicros))
	fmt.Printf("From Peak:      %s\n", colorizeMicros(downFromPeak))

	fmt.Println()
	accent.Println("Holdings")
	if len(d.Holdings) == 0 {
		printInfo("No holdings yet. Try `lord properties list`.")
	} else {
		fmt.Printf("%-6s %-28s %-10s %10s %12s %12s %9s %14s %14s\n", "ID", "ADDRESS", "CLASS", "SHARES", "BUY", "NOW", "DELTA%", "VALUE", "P/L")
		for _, h := range d.Holdings {
			deltaPct := 0.0
			if h.AvgPriceMicros != 0 {
				deltaPct = (float64(h.SharePriceMicros-h.AvgPriceMicros) / float64(h.AvgPriceMicros)) * 100
			}
			fmt.Printf("%-6d %-28s %-10s %10.4f %12s %12s %9s %14s %14s\n",
				h.PropertyID,
				truncate(h.Address, 28),
				h.Class,
				game.UnitsToShares(h.Units),
				formatMicros(h.AvgPriceMicros),
				formatMicros(h.SharePriceMicros),
				colorizePercent(deltaPct),
				formatMicros(h.MarketValueMicros),
				colorizeMicros(h.UnrealizedMicros),
			)
		}
	}

	fmt.Println()
	accent.Println("Open Escrows")
	if len(d.OpenEscrows) == 0 {
		printInfo("No open escrows.")
	} else {
		fmt.Printf("%-6s %-28s %10s %-12s %12s %-18s\n", "ID", "ADDRESS", "SHARES", "STATE", "HOLD", "DEADLINE")
		for _, e := range d.OpenEscrows {
			fmt.Printf("%-6d %-28s %10.4f %-12s %12s %-18s\n",
				e.ID,
				truncate(e.Address, 28),
				game.UnitsToShares(e.Units),
				e.State,
				formatMicros(e.HoldMicros),
				e.DeadlineAt.Format("Jan 2, 2006"),
			)
		}
	}
	fmt.Println()
	return nil
}

func renderClock(raw map[string]any) error {
	c, err := decodeInto[game.ClockView](raw)
	if err != nil {
		return err
	}
	accent.Printf("\n== WORLD %d CLOCK ==\n", c.WorldID)
	status := c.Status
	if c.Status == game.WorldActive {
		status = success.Sprint(c.Status)
	} else if c.Status == game.WorldPaused {
		status = warn.Sprint(c.Status)
	}
	fmt.Printf("Status:     %s\n", status)
	fmt.Printf("Regime:     %s\n", c.Regime)
	fmt.Printf("Time scale: x%.0f\n", c.TimeScale)
	fmt.Printf("Real now:   %s\n", c.RealNow.Local().Format("2006-01-02 15:04:05"))
	fmt.Printf("Game now:   %s\n", c.GameNow.Format("Jan 2, 2006 15:04"))
	fmt.Println()
	return nil
}

func renderPropertiesList(raw map[string]any) error {
	payload, err := decodeInto[propertiesPayload](raw)
	if err != nil {
		return err
	}
	accent.Println("\n== PROPERTY MARKET ==")
	if len(payload.Properties) == 0 {
		printInfo("No properties listed right now.")
		return nil
	}
	fmt.Printf("%-6s %-28s %-10s %12s %8s %7s %10s %-9s\n", "ID", "ADDRESS", "CLASS", "PRICE/SH", "YIELD", "OCC", "AVAIL", "STATUS")
	for _, p := range payload.Properties {
		fmt.Printf("%-6d %-28s %-10s %12s %7.2f%% %6.1f%% %10.2f %-9s\n",
			p.ID,
			truncate(p.Address, 28),
			p.Class,
			formatMicros(p.SharePriceMicros),
			float64(p.GrossYieldBps)/100,
			float64(p.OccupancyBps)/100,
			game.UnitsToShares(p.UnitsAvailable),
			p.Status,
		)
	}
	fmt.Println()
	return nil
}

func renderPropertyDetail(raw map[string]any) error {
	detail, err := decodeInto[game.PropertyDetail](raw)
	if err != nil {
		return err
	}
	accent.Printf("\n== #%d %s ==\n", detail.ID, detail.Address)
	fmt.Printf("Class:        %s\n", detail.Class)
	fmt.Printf("Status:       %s\n", detail.Status)
	fmt.Printf("Valuation:    %s\n", formatMicros(detail.ValueMicros))
	fmt.Printf("Price/share:  %s\n", formatMicros(detail.SharePriceMicros))
	fmt.Printf("Gross yield:  %.2f%%\n", float64(detail.GrossYieldBps)/100)
	fmt.Printf("Occupancy:    %.1f%%\n", float64(detail.OccupancyBps)/100)
	fmt.Printf("Shares avail: %.2f of %.2f\n", game.UnitsToShares(detail.UnitsAvailable), game.UnitsToShares(detail.TotalUnits))

	if len(detail.Valuations) > 1 {
		latest := detail.Valuations[0].ValueMicros
		oldest := detail.Valuations[len(detail.Valuations)-1].ValueMicros
		fmt.Printf("Trend (recent): %s\n", colorizeMicros(latest-oldest))
	}

	if len(detail.Valuations) > 0 {
		fmt.Println()
		accent.Println("Valuation History")
		fmt.Printf("%-12s %16s\n", "MONTH", "VALUE")
		limit := len(detail.Valuations)
		if limit > 8 {
			limit = 8
		}
		for i := 0; i < limit; i++ {
			point := detail.Valuations[i]
			fmt.Printf("%-12s %16s\n", point.Month.Format("Jan 2006"), formatMicros(point.ValueMicros))
		}
	}
	fmt.Println()
	return nil
}

func renderEscrowsList(raw map[string]any) error {
	payload, err := decodeInto[escrowsPayload](raw)
	if err != nil {
		return err
	}
	accent.Println("\n== ESCROWS ==")
	if len(payload.Escrows) == 0 {
		printInfo("No escrows found.")
		return nil
	}
	fmt.Printf("%-6s %-28s %10s %-18s %12s %-14s\n", "ID", "ADDRESS", "SHARES", "STATE", "HOLD", "DEADLINE")
	for _, e := range payload.Escrows {
		fmt.Printf("%-6d %-28s %10.4f %-18s %12s %-14s\n",
			e.ID,
			truncate(e.Address, 28),
			game.UnitsToShares(e.Units),
			colorizeEscrowState(e.State),
			formatMicros(e.HoldMicros),
			e.DeadlineAt.Format("Jan 2, 2006"),
		)
	}
	fmt.Println()
	return nil
}

func renderEscrowDetail(raw map[string]any) error {
	e, err := decodeInto[game.EscrowView](raw)
	if err != nil {
		return err
	}
	accent.Printf("\n== ESCROW #%d ==\n", e.ID)
	fmt.Printf("Property: #%d %s\n", e.PropertyID, e.Address)
	fmt.Printf("Shares:   %.4f\n", game.UnitsToShares(e.Units))
	fmt.Printf("State:    %s\n", colorizeEscrowState(e.State))
	fmt.Printf("Hold:     %s\n", formatMicros(e.HoldMicros))
	fmt.Printf("Opened:   %s\n", e.OpenedAt.Format("Jan 2, 2006"))
	fmt.Printf("Deadline: %s\n", e.DeadlineAt.Format("Jan 2, 2006"))
	if strings.TrimSpace(e.Note) != "" {
		fmt.Printf("Note:     %s\n", e.Note)
	}
	fmt.Println()
	return nil
}

func renderInvestResult(raw map[string]any, qty float64) error {
	out, err := decodeInto[game.InvestResult](raw)
	if err != nil {
		return err
	}
	accent.Println("\n== OFFER ACCEPTED ==")
	fmt.Printf("Escrow:      #%d (%s)\n", out.EscrowID, out.State)
	fmt.Printf("Shares:      %.4f\n", qty)
	fmt.Printf("Price/share: %s\n", formatMicros(out.SharePriceMicros))
	fmt.Printf("Held:        %s\n", formatMicros(out.HoldMicros))
	fmt.Printf("Deadline:    %s\n", out.DeadlineAt.Format("Jan 2, 2006"))
	fmt.Printf("Balance:     %s\n", formatMicros(out.BalanceMicros))
	printInfo("Funds stay in escrow until inspection and lender approval clear.")
	fmt.Println()
	return nil
}

func renderDivestResult(raw map[string]any, qty float64) error {
	out, err := decodeInto[game.DivestResult](raw)
	if err != nil {
		return err
	}
	accent.Println("\n== SHARES SOLD ==")
	fmt.Printf("Shares:      %.4f\n", qty)
	fmt.Printf("Price/share: %s\n", formatMicros(out.SharePriceMicros))
	fmt.Printf("Gross:       %s\n", formatMicros(out.GrossMicros))
	fmt.Printf("Fee:         %s\n", formatMicros(out.FeeMicros))
	fmt.Printf("Proceeds:    %s\n", formatMicros(out.ProceedsMicros))
	fmt.Printf("Balance:     %s\n", formatMicros(out.BalanceMicros))
	fmt.Println()
	return nil
}

func renderCancelResult(raw map[string]any) error {
	out, err := decodeInto[game.CancelEscrowResult](raw)
	if err != nil {
		return err
	}
	printSuccess(fmt.Sprintf("Escrow #%d cancelled. Refunded %s.", out.EscrowID, formatMicros(out.RefundMicros)))
	fmt.Printf("Balance: %s\n", formatMicros(out.BalanceMicros))
	return nil
}

func renderRents(raw map[string]any) error {
	payload, err := decodeInto[rentsPayload](raw)
	if err != nil {
		return err
	}
	accent.Println("\n== RENT PAYMENTS ==")
	if len(payload.Rents) == 0 {
		printInfo("No rent collected yet.")
		return nil
	}
	var total int64
	fmt.Printf("%-10s %-28s %10s %12s\n", "PERIOD", "ADDRESS", "SHARES", "AMOUNT")
	for _, rent := range payload.Rents {
		total += rent.AmountMicros
		fmt.Printf("%-10s %-28s %10.4f %12s\n",
			rent.Period.Format("Jan 2006"),
			truncate(rent.Address, 28),
			game.UnitsToShares(rent.Units),
			formatMicros(rent.AmountMicros),
		)
	}
	fmt.Printf("%-10s %-28s %10s %12s\n", "", "", "TOTAL", formatMicros(total))
	fmt.Println()
	return nil
}

func renderLedger(raw map[string]any) error {
	payload, err := decodeInto[ledgerPayload](raw)
	if err != nil {
		return err
	}
	accent.Println("\n== LEDGER ==")
	if len(payload.Entries) == 0 {
		printInfo("No ledger entries yet.")
		return nil
	}
	fmt.Printf("%-18s %-10s %14s %-28s\n", "TIME", "ACCOUNT", "DELTA", "REASON")
	for _, entry := range payload.Entries {
		fmt.Printf("%-18s %-10s %14s %-28s\n",
			entry.At.Local().Format("2006-01-02 15:04"),
			entry.Account,
			colorizeMicros(entry.DeltaMicros),
			truncate(entry.Reason, 28),
		)
	}
	fmt.Println()
	return nil
}

func renderLeaderboard(raw map[string]any, title string) error {
	payload, err := decodeInto[leaderboardPayload](raw)
	if err != nil {
		return err
	}
	accent.Printf("\n== %s ==\n", strings.ToUpper(title))
	if len(payload.Rows) == 0 {
		printInfo("No leaderboard rows yet.")
		return nil
	}
	fmt.Printf("%-6s %-20s %14s\n", "RANK", "PLAYER", "NET WORTH")
	for _, row := range payload.Rows {
		handle := row.Handle
		if row.IsBot {
			handle += " (bot)"
		}
		fmt.Printf("%-6d %-20s %14s\n",
			row.Rank,
			truncate(handle, 20),
			formatMicros(row.NetWorthMicros),
		)
	}
	fmt.Println()
	return nil
}

func renderSyncResults(raw map[string]any, queued int) error {
	payload, err := decodeInto[syncPayload](raw)
	if err != nil {
		return err
	}
	accent.Printf("\n== SYNC (%d queued) ==\n", queued)
	for _, res := range payload.Results {
		line := fmt.Sprintf("%-10s %s", res.Status, res.Path)
		switch res.Status {
		case "applied":
			success.Println(line)
		case "duplicate":
			neutral.Println(line)
		default:
			danger.Println(line)
			if strings.TrimSpace(res.Detail) != "" {
				fmt.Printf("           %s\n", res.Detail)
			}
		}
	}
	fmt.Println()
	return nil
}

func renderTickReport(raw map[string]any) error {
	r, err := decodeInto[tickPayload](raw)
	if err != nil {
		return err
	}
	accent.Printf("\n== TICK (World %d) ==\n", r.WorldID)
	fmt.Printf("Game now:      %s\n", r.GameNow.Format("Jan 2, 2006 15:04"))
	fmt.Printf("Regime:        %s", r.Regime)
	if r.RegimeShift {
		warn.Print("  (shifted)")
	}
	fmt.Println()
	fmt.Printf("Escrow events: %d\n", r.EscrowEvents)
	fmt.Printf("Rent paid:     %s over %d property-months\n", formatMicros(r.RentMicros), r.RentMonths)
	fmt.Printf("Revalued:      %d properties\n", r.Revalued)
	fmt.Printf("New listings:  %d\n", r.Listed)
	fmt.Printf("Bot trades:    %d invests, %d divests\n", r.BotInvests, r.BotDivests)
	fmt.Println()
	return nil
}

func decodeInto[T any](in any) (T, error) {
	var out T
	raw, err := json.Marshal(in)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}

func colorizeMicros(v int64) string {
	text := signedMicros(v)
	switch {
	case v > 0:
		return success.Sprint(text)
	case v < 0:
		return danger.Sprint(text)
	default:
		return neutral.Sprint(text)
	}
}

func colorizePercent(v float64) string {
	text := fmt.Sprintf("%+.2f%%", v)
	switch {
	case v > 0:
		return success.Sprint(text)
	case v < 0:
		return danger.Sprint(text)
	default:
		return neutral.Sprint(text)
	}
}

func colorizeEscrowState(state string) string {
	switch state {
	case game.EscrowCompleted:
		return success.Sprint(state)
	case game.EscrowInspection, game.EscrowApproval, game.EscrowClosing:
		return warn.Sprint(state)
	default:
		return danger.Sprint(state)
	}
}

// formatMicros renders a micros amount as dollars. go-money works in cents,
// and a cent is 10,000 micros.
func formatMicros(v int64) string {
	return money.New(v/10_000, money.USD).Display()
}

func signedMicros(v int64) string {
	if v > 0 {
		return "+" + formatMicros(v)
	}
	return formatMicros(v)
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
