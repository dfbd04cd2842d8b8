// Package main implements the storefront CLI, a thin shell over the
// client SDK: log in, browse the catalog, manage the cart, check out
// (optionally as a gift), and chat.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	flag "github.com/spf13/pflag"

	"github.com/withgift/storefront/internal/api"
	"github.com/withgift/storefront/internal/cart"
	"github.com/withgift/storefront/internal/catalog"
	"github.com/withgift/storefront/internal/chat"
	"github.com/withgift/storefront/internal/checkout"
	"github.com/withgift/storefront/internal/config"
	"github.com/withgift/storefront/internal/metrics"
	"github.com/withgift/storefront/internal/order"
	"github.com/withgift/storefront/internal/payment"
	"github.com/withgift/storefront/internal/realtime"
	"github.com/withgift/storefront/internal/session"
	"github.com/withgift/storefront/pkg/logger"
)

func main() {
	var (
		login     = flag.String("login", "", "log in as id:password")
		logout    = flag.Bool("logout", false, "clear the stored session")
		products  = flag.Bool("products", false, "list products")
		search    = flag.String("search", "", "search products")
		showCart  = flag.Bool("cart", false, "show cart contents")
		addItem   = flag.String("add", "", "add product to cart as productID:qty")
		buy       = flag.Bool("checkout", false, "check out the selected cart entries")
		receiver  = flag.String("receiver", "", "receiver user id (defaults to self)")
		entries   = flag.StringSlice("items", nil, "cart entry ids to buy")
		method    = flag.String("method", "cash", "payment method: cash, points, split")
		points    = flag.String("points", "0", "points amount for split payment")
		giftRoom  = flag.String("gift-room", "", "chat room to notify with the gift")
		chatRoom  = flag.String("chat", "", "join a chat room and send stdin lines")
		rooms     = flag.Bool("rooms", false, "list chat rooms")
		friends   = flag.Bool("friends", false, "list friends")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{Component: "storefront", Level: cfg.LogLevel, JSON: cfg.LogJSON})
	mx := metrics.New(nil)

	sess := session.NewStore(cfg.TokenPath, log.WithField("component", "session"))
	if err := sess.Load(); err != nil {
		log.WithError(err).Error("load session")
		os.Exit(1)
	}

	apiClient := api.New(cfg.APIBaseURL, sess,
		api.WithLogger(log),
		api.WithMetrics(mx),
		api.WithTimeout(cfg.RequestTimeout),
		api.WithOnSessionExpired(func() {
			fmt.Fprintln(os.Stderr, "session expired, please log in again")
		}),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch {
	case *login != "":
		runLogin(ctx, apiClient, *login)
	case *logout:
		apiClient.Logout()
	case *products:
		runProducts(ctx, catalog.NewClient(apiClient))
	case *search != "":
		runSearch(ctx, catalog.NewClient(apiClient), *search)
	case *showCart:
		runCart(ctx, cart.NewClient(apiClient))
	case *addItem != "":
		runAdd(ctx, cart.NewClient(apiClient), *addItem)
	case *buy:
		runCheckout(ctx, apiClient, log, checkoutArgs{
			receiver: *receiver,
			entries:  *entries,
			method:   *method,
			points:   *points,
			giftRoom: *giftRoom,
		})
	case *rooms:
		runRooms(ctx, chat.NewClient(apiClient))
	case *friends:
		runFriends(ctx, chat.NewClient(apiClient))
	case *chatRoom != "":
		runChat(ctx, cfg, sess, apiClient, log, mx, *chatRoom)
	default:
		flag.Usage()
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}

func runLogin(ctx context.Context, apiClient *api.Client, cred string) {
	id, pw, ok := strings.Cut(cred, ":")
	if !ok {
		fatal(errors.New("login must be id:password"))
	}
	if err := apiClient.Login(ctx, id, pw); err != nil {
		fatal(err)
	}
	fmt.Println("logged in")
}

func runProducts(ctx context.Context, c *catalog.Client) {
	page, err := c.Products(ctx, 1)
	if err != nil {
		fatal(err)
	}
	for _, p := range page.Products {
		fmt.Printf("%s\t%s\t%s\n", p.ID, p.Name, p.Price)
	}
}

func runSearch(ctx context.Context, c *catalog.Client, query string) {
	found, err := c.Search(ctx, query)
	if err != nil {
		fatal(err)
	}
	for _, p := range found {
		fmt.Printf("%s\t%s\t%s\n", p.ID, p.Name, p.Price)
	}
}

func runCart(ctx context.Context, c *cart.Client) {
	items, err := c.Items(ctx)
	if err != nil {
		fatal(err)
	}
	for _, item := range items {
		fmt.Printf("%s\t%s\tx%d\t%s\n", item.EntryID, item.Name, item.Quantity, item.UnitPrice)
	}
}

func runAdd(ctx context.Context, c *cart.Client, arg string) {
	productID, qtyStr, ok := strings.Cut(arg, ":")
	qty := 1
	if ok {
		if _, err := fmt.Sscanf(qtyStr, "%d", &qty); err != nil {
			fatal(fmt.Errorf("bad quantity %q", qtyStr))
		}
	}
	if err := c.Add(ctx, productID, qty); err != nil {
		fatal(err)
	}
	fmt.Println("added")
}

type checkoutArgs struct {
	receiver string
	entries  []string
	method   string
	points   string
	giftRoom string
}

func runCheckout(ctx context.Context, apiClient *api.Client, log *logger.Logger, args checkoutArgs) {
	cartClient := cart.NewClient(apiClient)
	items, err := cartClient.Items(ctx)
	if err != nil {
		fatal(err)
	}

	selected := args.entries
	if len(selected) == 0 {
		for _, item := range items {
			selected = append(selected, item.EntryID)
		}
	}
	lineItems, err := cart.Selection(items, selected)
	if err != nil {
		fatal(err)
	}

	var m checkout.Method
	switch args.method {
	case "cash":
		m = checkout.MethodCash
	case "points":
		m = checkout.MethodPoints
	case "split":
		m = checkout.MethodSplit
	default:
		fatal(fmt.Errorf("unknown method %q", args.method))
	}

	pts, err := decimal.NewFromString(args.points)
	if err != nil {
		fatal(fmt.Errorf("bad points amount %q", args.points))
	}

	paymentClient := payment.NewClient(apiClient)

	// The payment screen knows the balance up front; the flow itself
	// validates locally.
	available := decimal.Zero
	if m != checkout.MethodCash {
		available, err = paymentClient.PointsBalance(ctx)
		if err != nil {
			fatal(err)
		}
	}

	flow := checkout.NewFlow(
		order.NewClient(apiClient),
		paymentClient,
		cartClient,
		log,
	)
	result, err := flow.Run(ctx, checkout.Request{
		ReceiverID:      args.receiver,
		Items:           lineItems,
		Method:          m,
		PointsRequested: pts,
		PointsAvailable: available,
		GiftRoomID:      args.giftRoom,
		FromCart:        true,
	})
	if err != nil {
		fatal(err)
	}

	fmt.Printf("order %s: %s\n", result.OrderID, result.Status)
	fmt.Printf("total %s (cash %s, points %s)\n", result.Total, result.CashAmount, result.PointsUsed)
}

func runRooms(ctx context.Context, c *chat.Client) {
	list, err := c.Rooms(ctx)
	if err != nil {
		fatal(err)
	}
	for _, room := range list {
		fmt.Printf("%s\t%s\t(%d unread)\t%s\n", room.ID, room.DisplayName, room.UnreadCount, room.LastMessage)
	}
}

func runFriends(ctx context.Context, c *chat.Client) {
	list, err := c.Friends(ctx)
	if err != nil {
		fatal(err)
	}
	for _, f := range list {
		fmt.Printf("%s\t%s\n", f.ID, f.Name)
	}
}

func runChat(ctx context.Context, cfg *config.Config, sess *session.Store, apiClient *api.Client, log *logger.Logger, mx *metrics.Metrics, roomID string) {
	manager := realtime.NewManager(realtime.Config{
		URL:              cfg.WSURL,
		ReconnectDelay:   cfg.ReconnectDelay,
		HandshakeTimeout: cfg.HandshakeTimeout,
		HeartbeatPeriod:  cfg.HeartbeatPeriod,
		SendRate:         cfg.SendRate,
		SendBurst:        cfg.SendBurst,
	}, sess, realtime.WithLogger(log), realtime.WithMetrics(mx))

	go manager.Run(ctx)

	// Wait for the handshake before joining.
	for !manager.Ready() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(100 * time.Millisecond):
		}
	}

	chatClient := chat.NewClient(apiClient)
	controller := chat.NewController(roomID, manager, chatClient, sess, log)
	if err := controller.Join(ctx); err != nil {
		fatal(err)
	}
	defer controller.Leave(context.Background())

	// Show messages as they accumulate, echo style.
	go func() {
		printed := make(map[string]bool)
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				printNewMessages(os.Stdout, controller.Messages(), printed)
			}
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	runSendLoop(ctx, controller, scanner)
}

// printNewMessages writes messages that have not been shown yet. The list
// uses sorted insertion and history replacement, so new messages can land
// anywhere in it; printed state is tracked by message id, not by index.
func printNewMessages(w io.Writer, msgs []chat.Message, printed map[string]bool) {
	for _, m := range msgs {
		if printed[m.ID] {
			continue
		}
		printed[m.ID] = true
		if m.IsGift {
			fmt.Fprintf(w, "[%s] %s sent a gift (order %s)\n", m.SentAt.Format("15:04"), m.SenderID, m.GiftOrderID)
			continue
		}
		fmt.Fprintf(w, "[%s] %s: %s\n", m.SentAt.Format("15:04"), m.SenderID, m.Body)
	}
}

func runSendLoop(ctx context.Context, controller *chat.Controller, scanner *bufio.Scanner) {
	for scanner.Scan() {
		if err := controller.Send(ctx, scanner.Text()); err != nil {
			if errors.Is(err, chat.ErrEmptyMessage) {
				continue
			}
			fmt.Fprintln(os.Stderr, "send:", err)
		}
	}
}
