package main

import (
	"crypto/ecdsa"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	limitnet "limitbook/internal/net"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

func main() {
	// 1. CLI Parameter Parsing
	serverAddr := flag.String("server", "127.0.0.1:9000", "Address of the exchange server")
	from := flag.String("from", "", "Caller account, hex address (compulsory for create, batch, update and cancel unless -key is set)")
	keyHex := flag.String("key", "", "Hex private key; authenticates the session and sets -from")
	action := flag.String("action", "create", "Action to perform: ['create', 'batch', 'update', 'cancel', 'orders', 'hint', 'subscribe']")

	// Order Parameters
	book := flag.Uint64("book", 0, "Order book id")
	sideStr := flag.String("side", "bid", "Order side: 'ask' or 'bid'")
	price := flag.Uint64("price", 1, "Limit price in price ticks")
	sizeStr := flag.String("size", "1", "Size in size ticks, or a comma-separated list for batch (e.g. 10,20,50)")
	hint := flag.Uint64("hint", 0, "Insertion hint; 0 asks the server for one first")
	steps := flag.Uint64("steps", 0, "Step limit for the call, 0 for the server default")

	// Update and Cancel Parameters
	orderID := flag.Uint64("order", 0, "Id of the order to update or cancel")

	flag.Parse()

	var key *ecdsa.PrivateKey
	if *keyHex != "" {
		k, err := crypto.HexToECDSA(strings.TrimPrefix(*keyHex, "0x"))
		if err != nil {
			log.Fatalf("Error: invalid -key: %v", err)
		}
		key = k
		*from = crypto.PubkeyToAddress(k.PublicKey).Hex()
	}

	needsFrom := map[string]bool{"create": true, "batch": true, "update": true, "cancel": true}
	act := strings.ToLower(*action)
	if needsFrom[act] && !common.IsHexAddress(*from) {
		fmt.Println("Error: -from must be a hex address for this action.")
		flag.Usage()
		os.Exit(1)
	}
	caller := common.HexToAddress(*from)
	isAsk := strings.ToLower(*sideStr) == "ask"

	// Connect to Server
	conn, err := net.Dial("tcp", *serverAddr)
	if err != nil {
		log.Fatalf("Failed to connect to server at %s: %v", *serverAddr, err)
	}
	defer conn.Close()
	fmt.Printf("Connected to %s\n", *serverAddr)

	if key != nil {
		authenticate(conn, key)
		fmt.Printf("Authenticated as %s\n", caller.Hex())
	}

	sizes := parseSizes(*sizeStr)
	if len(sizes) == 0 {
		log.Fatal("Error: -size needs at least one value")
	}
	orderHint := func(size uint64) uint64 {
		if *hint != 0 {
			return *hint
		}
		res := call(conn, limitnet.ComputeInsertionHintMessage{BookID: *book, Size: size, Price: *price, IsAsk: isAsk})
		if len(res.IDs) == 0 {
			return 0
		}
		return res.IDs[0]
	}

	// Execute Action
	switch act {
	case "create":
		res := call(conn, limitnet.CreateLimitOrderMessage{
			From:      caller,
			BookID:    *book,
			Size:      sizes[0],
			Price:     *price,
			IsAsk:     isAsk,
			Hint:      orderHint(sizes[0]),
			StepLimit: *steps,
		})
		printResult("Create", res)

	case "batch":
		msg := limitnet.CreateLimitOrderBatchMessage{From: caller, BookID: *book, StepLimit: *steps}
		for _, size := range sizes {
			// Hints are computed against the current book, so later
			// entries may walk a little further.
			msg.Entries = append(msg.Entries, limitnet.BatchEntry{Size: size, Price: *price, IsAsk: isAsk, Hint: orderHint(size)})
		}
		printResult("Batch", call(conn, msg))

	case "update":
		if *orderID == 0 {
			log.Fatal("Error: -order is required for update")
		}
		res := call(conn, limitnet.UpdateLimitOrderMessage{
			From:      caller,
			BookID:    *book,
			OrderID:   *orderID,
			Size:      sizes[0],
			Price:     *price,
			Hint:      *hint,
			StepLimit: *steps,
		})
		printResult("Update", res)

	case "cancel":
		if *orderID == 0 {
			log.Fatal("Error: -order is required for cancellation")
		}
		res := call(conn, limitnet.CancelLimitOrderMessage{From: caller, BookID: *book, OrderID: *orderID, StepLimit: *steps})
		printResult("Cancel", res)

	case "orders":
		printOrders(conn, *book)

	case "hint":
		fmt.Printf("-> Hint for %d @ %d: %d\n", sizes[0], *price, orderHint(sizes[0]))

	case "subscribe":
		printResult("Subscribe", call(conn, limitnet.SubscribeMessage{BookID: *book}))
		fmt.Println("\nListening for events... (Press Ctrl+C to exit)")
		readEvents(conn)

	default:
		log.Fatalf("Unknown action: %s", *action)
	}
}

// parseSizes splits a comma-separated string into a slice of uint64
func parseSizes(input string) []uint64 {
	var result []uint64
	for _, p := range strings.Split(input, ",") {
		p = strings.TrimSpace(p)
		if val, err := strconv.ParseUint(p, 10, 64); err == nil {
			result = append(result, val)
		} else {
			log.Printf("Warning: Invalid size '%s', skipping.", p)
		}
	}
	return result
}

// call sends a request and waits for its result, skipping any event
// pushed in between.
func call(conn net.Conn, m limitnet.Message) limitnet.ResultMessage {
	if err := conn.SetDeadline(time.Now().Add(5 * time.Second)); err != nil {
		log.Fatalf("Failed to set deadline: %v", err)
	}
	if err := limitnet.WriteMessage(conn, m); err != nil {
		log.Fatalf("Failed to send %v: %v", m.GetType(), err)
	}
	for {
		reply, err := limitnet.ReadMessage(conn)
		if err != nil {
			log.Fatalf("Connection lost: %v", err)
		}
		if res, ok := reply.(limitnet.ResultMessage); ok {
			return res
		}
	}
}

// authenticate signs the server's challenge so the session may trade as
// the key's account.
func authenticate(conn net.Conn, key *ecdsa.PrivateKey) {
	if err := conn.SetDeadline(time.Now().Add(5 * time.Second)); err != nil {
		log.Fatalf("Failed to set deadline: %v", err)
	}
	if err := limitnet.WriteMessage(conn, limitnet.HelloMessage{}); err != nil {
		log.Fatalf("Failed to send hello: %v", err)
	}
	reply, err := limitnet.ReadMessage(conn)
	if err != nil {
		log.Fatalf("Connection lost: %v", err)
	}
	challenge, ok := reply.(limitnet.ChallengeMessage)
	if !ok {
		log.Fatalf("Expected a challenge, got %v", reply.GetType())
	}
	msg, err := limitnet.SignChallenge(key, challenge.Nonce)
	if err != nil {
		log.Fatalf("Failed to sign challenge: %v", err)
	}
	if res := call(conn, msg); !res.OK {
		log.Fatalf("Authentication failed: %s", res.Error)
	}
}

func printResult(action string, res limitnet.ResultMessage) {
	if !res.OK {
		fmt.Printf("\n[SERVER ERROR] %s: %s\n", action, res.Error)
		return
	}
	fmt.Printf("-> %s OK, ids: %v\n", action, res.IDs)
}

// printOrders pages through the whole listing of book.
func printOrders(conn net.Conn, book uint64) {
	fmt.Printf("%-8s %-4s %-42s %24s %12s\n", "ID", "SIDE", "OWNER", "SIZE", "PRICE")
	var offset uint32
	for {
		if err := conn.SetDeadline(time.Now().Add(5 * time.Second)); err != nil {
			log.Fatalf("Failed to set deadline: %v", err)
		}
		if err := limitnet.WriteMessage(conn, limitnet.GetLimitOrdersMessage{BookID: book, Offset: offset}); err != nil {
			log.Fatalf("Failed to request orders: %v", err)
		}
		reply, err := limitnet.ReadMessage(conn)
		if err != nil {
			log.Fatalf("Connection lost: %v", err)
		}
		switch m := reply.(type) {
		case limitnet.SnapshotMessage:
			for _, row := range m.Rows {
				fmt.Printf("%-8d %-4s %-42s %24s %12d\n", row.ID, row.Side, row.Owner.Hex(), row.Size.Dec(), row.Price)
			}
			offset += uint32(len(m.Rows))
			if len(m.Rows) == 0 || offset >= m.Total {
				return
			}
		case limitnet.ResultMessage:
			printResult("Orders", m)
			return
		}
	}
}

// readEvents prints pushed events until the connection closes.
func readEvents(conn net.Conn) {
	if err := conn.SetDeadline(time.Time{}); err != nil {
		log.Fatalf("Failed to clear deadline: %v", err)
	}
	for {
		msg, err := limitnet.ReadMessage(conn)
		if err != nil {
			log.Printf("Connection lost: %v", err)
			return
		}
		if ev, ok := msg.(limitnet.EventMessage); ok {
			fmt.Printf("[EVENT] seq=%d tx=%s %v\n", ev.Event.Sequence, ev.Event.TxID, ev.Event)
		}
	}
}
