// Command peer runs one fabric peer: it shares the contents of its
// Downloads/P2P/<peer-name> folder with the swarm and offers an
// interactive CLI to browse peers and start downloads.
package main

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/alexflint/go-arg"
	"github.com/anacrolix/envpprof"
	"github.com/anacrolix/log"
	"github.com/dustin/go-humanize"

	"github.com/dannyzb/p2pfabric/config"
	"github.com/dannyzb/p2pfabric/content"
	"github.com/dannyzb/p2pfabric/directory"
	"github.com/dannyzb/p2pfabric/peerserver"
	"github.com/dannyzb/p2pfabric/swarm"
	"github.com/dannyzb/p2pfabric/version"
)

type args struct {
	Name        string `arg:"--name,required" help:"this peer's unique name"`
	TrackerAddr string `arg:"--tracker" help:"tracker UDP address"`
	ListenAddr  string `arg:"--listen" help:"TCP address to serve chunks on"`
	Debug       bool   `arg:"--debug" help:"enable debug logging"`
}

func (args) Version() string {
	return version.ClientVersion
}

func main() {
	defer envpprof.Stop()

	a := args{
		TrackerAddr: net.JoinHostPort("127.0.0.1", strconv.Itoa(config.TrackerPort)),
		ListenAddr:  ":0",
	}
	arg.MustParse(&a)

	logger := log.Default.WithNames("peer", a.Name)
	if a.Debug {
		logger = logger.WithDefaultLevel(log.Debug)
	}

	store, err := content.NewStore(a.Name, logger)
	if err != nil {
		logger.Levelf(log.Critical, "init content store: %v", err)
		os.Exit(1)
	}

	wireServer, err := peerserver.NewServer(a.ListenAddr, store, logger)
	if err != nil {
		logger.Levelf(log.Critical, "start wire server: %v", err)
		os.Exit(1)
	}

	dirClient, err := directory.NewClient(a.TrackerAddr, a.Name, wireServer.Port(), store.ForTracker, logger)
	if err != nil {
		logger.Levelf(log.Critical, "connect to tracker: %v", err)
		os.Exit(1)
	}

	watcher, err := content.NewWatcher(store, logger)
	if err != nil {
		logger.Levelf(log.Warning, "folder watcher disabled: %v", err)
	}

	updateSignal := make(chan struct{}, 1)
	store.SetOnUpdate(func() {
		select {
		case updateSignal <- struct{}{}:
		default:
		}
	})

	downloader := swarm.NewDownloader(store, dirClient.Peers(), logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() { wireServer.Serve(ctx) }()
	if err := dirClient.Register(ctx); err != nil {
		logger.Levelf(log.Warning, "initial registration failed: %v", err)
	}
	go dirClient.RunLoop(ctx, updateSignal)

	logger.Levelf(log.Info, "peer %q serving from %s on %s", a.Name, store.Root(), wireServer.Addr())

	runCLI(ctx, a.Name, store, dirClient, downloader, logger)

	cancel()
	if watcher != nil {
		watcher.Close()
	}
	dirClient.Close()
	wireServer.Close()
}

func runCLI(ctx context.Context, name string, store *content.Store, dirClient *directory.Client, downloader *swarm.Downloader, logger log.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Printf("p2pfabric peer %q ready. Type 'help' for commands.\n", name)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		cmd, rest := fields[0], fields[1:]

		switch cmd {
		case "list", "ls", "files":
			printFiles(store)
		case "peers", "p":
			printPeers(dirClient)
		case "download", "dl", "get":
			if len(rest) != 1 {
				fmt.Println("usage: download <file-name>")
				continue
			}
			go func(file string) {
				if err := downloader.StartDownload(ctx, file); err != nil {
					logger.Levelf(log.Error, "download %q failed: %v", file, err)
				} else {
					logger.Levelf(log.Info, "download %q complete", file)
				}
			}(rest[0])
		case "downloads", "dls":
			printDownloads(downloader)
		case "status", "info":
			printStatus(store, dirClient)
		case "whoami", "me":
			fmt.Printf("%s (%s)\n", name, version.ClientVersion)
		case "refresh", "update":
			if err := dirClient.Update(ctx); err != nil {
				fmt.Printf("update failed: %v\n", err)
			}
		case "tracker", "t":
			if dirClient.IsConnectedToTracker() {
				fmt.Println("connected to tracker")
			} else {
				fmt.Println("not connected to tracker")
			}
		case "help", "h", "?":
			printHelp()
		case "quit", "exit", "q", "bye":
			return
		default:
			fmt.Printf("unknown command %q, type 'help'\n", cmd)
		}
	}
}

func printFiles(store *content.Store) {
	for file, bm := range store.GetAvailableFiles() {
		meta, ok := store.GetFileMetadata(file)
		if !ok {
			continue
		}
		complete := "partial"
		if store.HasCompleteFile(file) {
			complete = "complete"
		}
		fmt.Printf("  %-30s %10s  %d/%d chunks  %s\n", file, humanize.Bytes(uint64(meta.FileSize)), bm.GetCardinality(), meta.TotalChunks, complete)
	}
}

func printPeers(dirClient *directory.Client) {
	for id, info := range dirClient.Peers().Snapshot() {
		fmt.Printf("  %-20s %s  %d files\n", id, info.Addr, len(info.Files))
	}
}

func printDownloads(downloader *swarm.Downloader) {
	for _, p := range downloader.Active() {
		state := "downloading"
		if p.Done {
			state = "done"
		}
		if p.Err != nil {
			state = "error: " + p.Err.Error()
		}
		fmt.Printf("  %-30s %d/%d chunks  %s\n", p.FileName, p.ChunksHave, p.TotalChunks, state)
	}
}

func printStatus(store *content.Store, dirClient *directory.Client) {
	used, _ := store.TotalStorageUsed()
	fmt.Printf("  chunks stored:      %d\n", store.TotalChunksCount())
	fmt.Printf("  storage used:       %s\n", humanize.Bytes(uint64(used)))
	fmt.Printf("  known peers:        %d\n", dirClient.Peers().Len())
	fmt.Printf("  messages sent:      %s\n", dirClient.Metrics().MessagesSent.String())
	fmt.Printf("  messages received:  %s\n", dirClient.Metrics().MessagesReceived.String())
	fmt.Printf("  failed attempts:    %s\n", dirClient.Metrics().FailedAttempts.String())
}

func printHelp() {
	fmt.Println(`commands:
  list, ls, files       list known local files
  peers, p              list known swarm peers
  download, dl, get     download a file by name
  downloads, dls        show in-progress downloads
  status, info          show storage and network stats
  whoami, me            show this peer's identity
  refresh, update       push an UPDATE to the tracker now
  tracker, t            show tracker connection state
  help, h, ?            show this message
  quit, exit, q, bye    leave the swarm and exit`)
}
