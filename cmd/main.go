package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"whispr/client/internal/api"
	"whispr/client/internal/auth"
	"whispr/client/internal/config"
	"whispr/client/internal/inbox"
	"whispr/client/internal/session"
	"whispr/client/internal/store"
)

func main() {
	log.Println("Starting whispr client...")

	if err := godotenv.Load(); err != nil {
		log.Println("Warning: Error loading .env file")
	}
	cfg := config.FromEnv()

	tokens := auth.NewFileTokenStore(cfg.TokenPath)
	apiClient := api.NewClient(cfg.ServerURL, tokens)
	st := store.New()
	rec := inbox.NewReconciler(st)
	sess := session.New(apiClient, tokens, st, rec, func(msg string) {
		fmt.Println("! " + msg)
	})

	if sess.UserID() != "" {
		if err := sess.RefreshInbox(context.Background()); err != nil {
			log.Printf("inbox refresh failed: %v", err)
		}
	}

	repl(sess, st, rec)
}

func repl(sess *session.Session, st *store.MessageStore, rec *inbox.Reconciler) {
	ctx := context.Background()
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println(`Type /help for commands; anything else is sent to the open chat.`)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			if !sess.Send(line) {
				fmt.Println("! Not delivered (no open, synced chat)")
			}
			continue
		}

		fields := strings.Fields(line)
		cmd, args := fields[0], fields[1:]
		switch cmd {
		case "/help":
			printHelp()
		case "/login":
			if len(args) != 2 {
				fmt.Println("usage: /login <username> <password>")
				continue
			}
			if err := sess.Login(ctx, args[0], args[1]); err != nil {
				fmt.Println("! login failed:", err)
				continue
			}
			fmt.Println("logged in as", sess.UserID())
		case "/signup":
			if len(args) != 3 {
				fmt.Println("usage: /signup <username> <email> <password>")
				continue
			}
			if err := sess.Signup(ctx, args[0], args[1], args[2]); err != nil {
				fmt.Println("! signup failed:", err)
				continue
			}
			fmt.Println("account created; /login to continue")
		case "/search":
			if len(args) != 1 {
				fmt.Println("usage: /search <username>")
				continue
			}
			profiles, err := sess.SearchUsers(ctx, args[0])
			if err != nil {
				fmt.Println("! search failed:", err)
				continue
			}
			for _, p := range profiles {
				fmt.Printf("%s  %s\n", p.ID, p.Username)
			}
		case "/profile":
			if len(args) != 1 {
				fmt.Println("usage: /profile <userID>")
				continue
			}
			p, err := sess.Profile(ctx, args[0])
			if err != nil {
				fmt.Println("!", err)
				continue
			}
			fmt.Printf("%s (%s)\n", p.Username, p.ID)
		case "/logout":
			if err := sess.Logout(); err != nil {
				fmt.Println("! logout failed:", err)
			}
		case "/inbox":
			for i, sum := range rec.Snapshot() {
				marker := ""
				if sum.Deleted {
					marker = " (deleted)"
				}
				fmt.Printf("%d. %s [%s]%s: %s\n", i+1, sum.ChatID, sum.ParticipantID, marker, sum.LastMessage.Content)
			}
		case "/open":
			if len(args) < 1 {
				fmt.Println("usage: /open <chatID> [participantID]")
				continue
			}
			participant := ""
			if len(args) > 1 {
				participant = args[1]
			}
			if err := sess.SelectChat(ctx, args[0], participant); err != nil {
				fmt.Println("! open failed:", err)
			}
		case "/show":
			showChat(sess, st)
		case "/older":
			merged, err := sess.LoadOlder(ctx)
			if err == nil && !merged {
				fmt.Println("no older history")
			}
		case "/reply":
			if len(args) != 1 {
				fmt.Println("usage: /reply <messageID>")
				continue
			}
			draft := sess.OpenReply(args[0])
			fmt.Printf("replying to: %s\n", draft.Content)
		case "/cancel":
			sess.CloseReply()
		case "/resolve":
			if len(args) != 1 {
				fmt.Println("usage: /resolve <messageID>")
				continue
			}
			m, err := sess.ResolveReply(ctx, args[0])
			if err != nil {
				fmt.Println("!", err)
				continue
			}
			fmt.Printf("%s: %s\n", m.SenderID, m.Content)
		case "/unsend":
			if len(args) != 1 {
				fmt.Println("usage: /unsend <messageID>")
				continue
			}
			sess.Delete(ctx, sess.Selected().ChatID, args[0])
		case "/seen":
			if err := sess.MarkSeen(ctx); err != nil {
				fmt.Println("!", err)
			}
		case "/create":
			if len(args) != 1 {
				fmt.Println("usage: /create <participantID>")
				continue
			}
			chatID, err := sess.CreateChat(ctx, args[0])
			if err != nil {
				fmt.Println("! create failed:", err)
				continue
			}
			fmt.Println("chat:", chatID)
		case "/delchat":
			sel := sess.Selected()
			if sel.IsZero() {
				fmt.Println("no open chat")
				continue
			}
			sess.DeleteChat(ctx, sel.ChatID)
		case "/quit":
			sess.ClearSelection()
			return
		default:
			fmt.Println("unknown command; /help lists them")
		}
	}
}

func showChat(sess *session.Session, st *store.MessageStore) {
	sel := sess.Selected()
	if sel.IsZero() {
		fmt.Println("no open chat")
		return
	}
	indicator, hasIndicator := st.SeenIndicatorTarget(sel.ChatID, sess.UserID())
	for _, m := range st.Flatten(sel.ChatID) {
		prefix := " "
		if m.SenderID == sess.UserID() {
			prefix = ">"
		}
		line := fmt.Sprintf("%s [%s] %s: %s", prefix, m.ID, m.SenderID, m.Content)
		if m.ReplyToID != "" {
			line += fmt.Sprintf("  (re: %s)", m.ReplyToContent)
		}
		if hasIndicator && m.ID == indicator.ID {
			line += "  ✓ seen"
		}
		fmt.Println(line)
	}
	fmt.Println("connection:", sess.ChannelState())
}

func printHelp() {
	fmt.Println(`/signup <user> <email> <pass>
/login <user> <pass>   authenticate
/logout                drop the stored token
/search <username>     find users
/profile <userID>      show a user's profile
/inbox                 list conversations
/open <chatID> [uid]   open a chat (connects realtime)
/show                  print the open chat
/older                 load one older history page
/reply <messageID>     start a reply draft
/cancel                cancel the reply draft
/resolve <messageID>   jump to a replied-to message
/unsend <messageID>    delete a message
/seen                  mark inbound messages read
/create <userID>       start a chat with a user
/delchat               delete the open chat
/quit                  exit`)
}
