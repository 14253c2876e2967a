// Command zkchannel is the interactive, one-shot-per-invocation CLI for
// driving a single customer-side channel lifecycle step, mirroring
// cmd/lncli's "one subcommand, one RPC, print JSON, exit" shape -- except
// here each subcommand drives protocol.CustomerDriver directly over a
// fresh connection instead of a long-lived gRPC client.
//
// The merchant side has no per-step CLI commands: zkchanneld's accept
// loop already answers Establish/Activate/Pay as customers connect, so
// the only merchant-facing command here is "open", which seeds a new
// channel slot on a running zkchanneld via its local control port.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"os"

	"github.com/urfave/cli"

	"github.com/zkchannels/zkchanneld/zkchan"
	"github.com/zkchannels/zkchanneld/zkchan/customer"
	"github.com/zkchannels/zkchanneld/zkchan/mpcbridge"
	"github.com/zkchannels/zkchanneld/zkchan/persist"
	"github.com/zkchannels/zkchanneld/zkchan/protocol"
)

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[zkchannel] %v\n", err)
	os.Exit(1)
}

func printJSON(v interface{}) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fatal(err)
		return
	}
	fmt.Println(string(b))
}

func openStore(ctx *cli.Context) *persist.Store {
	s, err := persist.Open(ctx.GlobalString("datadir") + "/zkchannel.db")
	if err != nil {
		fatal(err)
	}
	return s
}

func main() {
	app := cli.NewApp()
	app.Name = "zkchannel"
	app.Usage = "drive one step of a zkchannels customer channel lifecycle"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "datadir", Value: ".", Usage: "directory holding this customer's persisted channel state"},
		cli.StringFlag{Name: "name", Usage: "channel handle"},
		cli.StringFlag{Name: "peer", Usage: "merchant host:port to connect to"},
		cli.StringFlag{Name: "mpcpeer", Usage: "merchant MPC host:port to connect to"},
		cli.StringFlag{Name: "control", Value: "localhost:10101", Usage: "zkchanneld control host:port (merchant party only)"},
	}
	app.Commands = []cli.Command{
		openCommand,
		initCommand,
		activateCommand,
		unlinkCommand,
		payCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fatal(err)
	}
}

var openCommand = cli.Command{
	Name:      "open",
	Usage:     "create a new channel: customer funds, or merchant fee/collateral terms",
	ArgsUsage: "--party cust|merch",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "party", Usage: "cust or merch"},
		cli.Int64Flag{Name: "custbal", Usage: "customer's initial balance, satoshis (cust party)"},
		cli.Int64Flag{Name: "merchbal", Usage: "merchant's initial balance, satoshis (cust party)"},
		cli.Int64Flag{Name: "feecc", Usage: "customer-side fixed fee, satoshis"},
		cli.Int64Flag{Name: "feemc", Usage: "merchant-side fixed fee, satoshis"},
		cli.Int64Flag{Name: "valcpfp", Usage: "CPFP reserve, satoshis"},
		cli.Int64Flag{Name: "balmincust", Usage: "customer dust floor, satoshis"},
		cli.Int64Flag{Name: "balminmerch", Usage: "merchant dust floor, satoshis"},
		cli.IntFlag{Name: "selfdelay", Value: 1487, Usage: "CSV delay, blocks"},
	},
	Action: runOpen,
}

func runOpen(ctx *cli.Context) error {
	name := ctx.GlobalString("name")
	if name == "" {
		return fmt.Errorf("--name is required")
	}

	switch ctx.String("party") {
	case "cust":
		core, err := customer.New(rand.Reader, ctx.Int64("custbal"), ctx.Int64("merchbal"), ctx.Int64("feecc"), name)
		if err != nil {
			return err
		}
		blob, err := core.MarshalState()
		if err != nil {
			return err
		}
		store := openStore(ctx)
		defer store.Close()
		if err := store.SaveCustChannel(name, persist.CustChannel{CustState: blob}); err != nil {
			return err
		}
		printJSON(map[string]string{"status": "created", "name": name})
		return nil

	case "merch":
		params := zkchan.ChannelMPCState{
			SelfDelay:   uint16(ctx.Int("selfdelay")),
			BalMinCust:  ctx.Int64("balmincust"),
			BalMinMerch: ctx.Int64("balminmerch"),
			ValCPFP:     ctx.Int64("valcpfp"),
			FeeCC:       ctx.Int64("feecc"),
			FeeMC:       ctx.Int64("feemc"),
		}
		mpcState, err := controlOpenChannel(ctx.GlobalString("control"), name, params)
		if err != nil {
			return err
		}
		printJSON(mpcState)
		return nil

	default:
		return fmt.Errorf("--party must be cust or merch")
	}
}

func controlOpenChannel(addr, name string, params zkchan.ChannelMPCState) (zkchan.ChannelMPCState, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return zkchan.ChannelMPCState{}, fmt.Errorf("dial control %s: %w", addr, err)
	}
	defer conn.Close()

	req := struct {
		Name   string                 `json:"name"`
		Params zkchan.ChannelMPCState `json:"params"`
	}{Name: name, Params: params}
	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return zkchan.ChannelMPCState{}, err
	}

	var resp struct {
		MPCState zkchan.ChannelMPCState `json:"mpc_state"`
		Error    string                 `json:"error,omitempty"`
	}
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return zkchan.ChannelMPCState{}, err
	}
	if resp.Error != "" {
		return zkchan.ChannelMPCState{}, fmt.Errorf("zkchanneld: %s", resp.Error)
	}
	return resp.MPCState, nil
}

var initCommand = cli.Command{
	Name:      "init",
	Usage:     "run Establish over a freshly confirmed funding transaction pair",
	ArgsUsage: "--peer host:port",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "escrowtxid", Usage: "escrow funding txid, hex"},
		cli.StringFlag{Name: "merchtxid", Usage: "merchant funding txid, hex"},
	},
	Action: runInit,
}

func hexTxID(s string) (zkchan.TxID, error) {
	var id zkchan.TxID
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("decode txid %q: %w", s, err)
	}
	if len(b) != len(id) {
		return id, fmt.Errorf("txid %q is %d bytes, want %d", s, len(b), len(id))
	}
	copy(id[:], b)
	return id, nil
}

func runInit(ctx *cli.Context) error {
	name := ctx.GlobalString("name")
	peer := ctx.GlobalString("peer")
	if name == "" || peer == "" {
		return fmt.Errorf("--name and --peer are required")
	}

	store := openStore(ctx)
	defer store.Close()
	entry, ok, err := store.LoadCustChannel(name)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no channel named %q; run open --party cust first", name)
	}
	core, err := customer.UnmarshalState(entry.CustState)
	if err != nil {
		return err
	}

	escrowTxID, err := hexTxID(ctx.String("escrowtxid"))
	if err != nil {
		return err
	}
	merchTxID, err := hexTxID(ctx.String("merchtxid"))
	if err != nil {
		return err
	}
	initState := core.CurrentState()
	funding := zkchan.FundingTxInfo{
		EscrowTxID:    escrowTxID,
		EscrowPrevout: zkchan.ComputePrevout(escrowTxID, 0),
		MerchTxID:     merchTxID,
		MerchPrevout:  zkchan.ComputePrevout(merchTxID, 0),
		InitCustBal:   initState.CustBalance,
		InitMerchBal:  initState.MerchBalance,
	}

	netConn, err := net.Dial("tcp", peer)
	if err != nil {
		return fmt.Errorf("dial %s: %w", peer, err)
	}
	defer netConn.Close()
	conn := protocol.NewFrameConn(netConn)
	if err := conn.SendFrame([]byte("establish"), []byte(name)); err != nil {
		return err
	}

	driver := protocol.NewCustomerDriver(core, conn, nil, nil)
	token, err := driver.Establish(funding)
	if err != nil {
		return err
	}

	blob, err := core.MarshalState()
	if err != nil {
		return err
	}
	tokenJSON, err := json.Marshal(token)
	if err != nil {
		return err
	}
	mpcStateJSON, err := json.Marshal(driver.MPCState())
	if err != nil {
		return err
	}
	if err := store.SaveCustChannel(name, persist.CustChannel{CustState: blob, ChannelToken: tokenJSON, MPCState: mpcStateJSON}); err != nil {
		return err
	}

	printJSON(token)
	return nil
}

var activateCommand = cli.Command{
	Name:   "activate",
	Usage:  "run Activate",
	Action: runActivate,
}

func runActivate(ctx *cli.Context) error {
	name := ctx.GlobalString("name")
	peer := ctx.GlobalString("peer")
	if name == "" || peer == "" {
		return fmt.Errorf("--name and --peer are required")
	}

	store := openStore(ctx)
	defer store.Close()
	core, token, mpcState, err := loadChannel(store, name)
	if err != nil {
		return err
	}

	netConn, err := net.Dial("tcp", peer)
	if err != nil {
		return fmt.Errorf("dial %s: %w", peer, err)
	}
	defer netConn.Close()
	conn := protocol.NewFrameConn(netConn)
	if err := conn.SendFrame([]byte("activate")); err != nil {
		return err
	}

	driver := protocol.NewCustomerDriverResumed(core, conn, nil, nil, token, mpcState)
	if err := driver.Activate(); err != nil {
		return err
	}

	return saveChannel(store, name, core, token, mpcState)
}

var unlinkCommand = cli.Command{
	Name:   "unlink",
	Usage:  "run Unlink (a zero-amount Pay)",
	Action: func(ctx *cli.Context) error { return runPay(ctx, 0) },
}

var payCommand = cli.Command{
	Name:  "pay",
	Usage: "run Pay",
	Flags: []cli.Flag{
		cli.Int64Flag{Name: "amount", Usage: "signed payment amount, satoshis; positive pays the merchant"},
	},
	Action: func(ctx *cli.Context) error { return runPay(ctx, ctx.Int64("amount")) },
}

func runPay(ctx *cli.Context, amount int64) error {
	name := ctx.GlobalString("name")
	peer := ctx.GlobalString("peer")
	mpcPeer := ctx.GlobalString("mpcpeer")
	if name == "" || peer == "" || mpcPeer == "" {
		return fmt.Errorf("--name, --peer, and --mpcpeer are required")
	}
	mpcHost, mpcPort, err := net.SplitHostPort(mpcPeer)
	if err != nil {
		return fmt.Errorf("--mpcpeer must be host:port: %w", err)
	}
	mpcPortNum, err := net.LookupPort("tcp", mpcPort)
	if err != nil {
		return fmt.Errorf("--mpcpeer port: %w", err)
	}

	store := openStore(ctx)
	defer store.Close()
	core, token, mpcState, err := loadChannel(store, name)
	if err != nil {
		return err
	}

	netConn, err := net.Dial("tcp", peer)
	if err != nil {
		return fmt.Errorf("dial %s: %w", peer, err)
	}
	defer netConn.Close()
	conn := protocol.NewFrameConn(netConn)

	tokenJSON, err := json.Marshal(token)
	if err != nil {
		return err
	}
	if err := conn.SendFrame([]byte("pay"), tokenJSON); err != nil {
		return err
	}

	mpc, err := mpcbridge.DialTCPTransport(mpcbridge.NetworkConfig{
		ConnType: mpcbridge.NETIO,
		DestIP:   mpcHost,
		DestPort: uint16(mpcPortNum),
	})
	if err != nil {
		return fmt.Errorf("dial mpc %s: %w", mpcPeer, err)
	}
	defer mpc.Close()

	driver := protocol.NewCustomerDriverResumed(core, conn, mpc, nil, token, mpcState)
	if err := driver.Pay(context.Background(), amount); err != nil {
		return err
	}

	if err := saveChannel(store, name, core, token, mpcState); err != nil {
		return err
	}
	printJSON(map[string]interface{}{"status": "paid", "amount": amount})
	return nil
}

func loadChannel(store *persist.Store, name string) (*customer.Core, *zkchan.ChannelToken, zkchan.ChannelMPCState, error) {
	entry, ok, err := store.LoadCustChannel(name)
	if err != nil {
		return nil, nil, zkchan.ChannelMPCState{}, err
	}
	if !ok {
		return nil, nil, zkchan.ChannelMPCState{}, fmt.Errorf("no channel named %q", name)
	}
	core, err := customer.UnmarshalState(entry.CustState)
	if err != nil {
		return nil, nil, zkchan.ChannelMPCState{}, err
	}
	var token zkchan.ChannelToken
	if err := json.Unmarshal(entry.ChannelToken, &token); err != nil {
		return nil, nil, zkchan.ChannelMPCState{}, fmt.Errorf("unmarshal channel token: %w", err)
	}
	var mpcState zkchan.ChannelMPCState
	if err := json.Unmarshal(entry.MPCState, &mpcState); err != nil {
		return nil, nil, zkchan.ChannelMPCState{}, fmt.Errorf("unmarshal mpc state: %w", err)
	}
	return core, &token, mpcState, nil
}

func saveChannel(store *persist.Store, name string, core *customer.Core, token *zkchan.ChannelToken, mpcState zkchan.ChannelMPCState) error {
	blob, err := core.MarshalState()
	if err != nil {
		return err
	}
	tokenJSON, err := json.Marshal(token)
	if err != nil {
		return err
	}
	mpcStateJSON, err := json.Marshal(mpcState)
	if err != nil {
		return err
	}
	return store.SaveCustChannel(name, persist.CustChannel{CustState: blob, ChannelToken: tokenJSON, MPCState: mpcStateJSON})
}
