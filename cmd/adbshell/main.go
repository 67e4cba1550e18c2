// Command adbshell is a minimal ADB shell client: it connects to a device,
// opens a shell: stream, and copies output to stdout. It is demo/debugging
// glue around the adb package, the Go-native analogue of
// py_adb's demo.py — not a replacement for `adb shell` itself.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/atsika/adbtransport"
	"github.com/atsika/adbtransport/capture"
	"github.com/atsika/adbtransport/rsasigner"
	"github.com/rs/zerolog"
)

// fastPoll/steadyPoll bound the backoff in the Recv drain loop below: a
// stream flushes output immediately after activity, then backs off toward
// steadyPoll while idle so draining a quiet shell doesn't spin the CPU.
const (
	fastPoll   = 5 * time.Millisecond
	steadyPoll = 100 * time.Millisecond
)

// unimplementedUSBFactory is the default "usb" adb.LinkFactory: this demo
// ships no libusb/gousb backend, so it fails with an actionable message
// instead of leaving device sources look reachable when they aren't.
type unimplementedUSBFactory struct{}

func (unimplementedUSBFactory) NewLink(addr *adb.SourceAddr) (adb.LinkEndpoint, error) {
	return nil, fmt.Errorf("adb: no USB LinkEndpoint backend is compiled into adbshell; "+
		"register your own libusb/gousb-backed adb.LinkFactory under the %q scheme, "+
		"or use -replay-queue-url to drive a recorded session instead", addr.Scheme)
}

func init() {
	adb.RegisterLinkFactory(adb.DefaultLinkScheme, unimplementedUSBFactory{})
}

func main() {
	sourceFlag := flag.String("source", "", "device source (e.g. usb://<serial>); scheme-less values assume usb://, which has no backend wired into this demo unless you register one")
	cmdFlag := flag.String("cmd", "", "shell command to run; empty opens an interactive shell")
	keyFlag := flag.String("key", "", "path to a PEM adbkey private key; generated in memory if unset")
	saveKeyFlag := flag.String("save-key", "", "write a freshly generated key to this path and exit")
	verboseFlag := flag.Bool("v", false, "enable debug logging")

	recordURLFlag := flag.String("record-queue-url", "", "Azure Queue service URL to capture this session's frames to")
	recordQueueFlag := flag.String("record-queue-name", "adbshell-capture", "queue name used with -record-queue-url")
	recordAccountFlag := flag.String("record-account", "", "storage account name for -record-queue-url")
	recordKeyFlag := flag.String("record-account-key", "", "storage account key for -record-queue-url")

	replayURLFlag := flag.String("replay-queue-url", "", "Azure Queue service URL to replay a captured session from, instead of a live device")
	replayQueueFlag := flag.String("replay-queue-name", "adbshell-capture", "queue name used with -replay-queue-url")
	replayAccountFlag := flag.String("replay-account", "", "storage account name for -replay-queue-url")
	replayKeyFlag := flag.String("replay-account-key", "", "storage account key for -replay-queue-url")

	flag.Parse()

	logger := zerolog.Nop()
	if *verboseFlag {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}

	signer, err := loadOrGenerateSigner(*keyFlag, *saveKeyFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, "adbshell:", err)
		os.Exit(1)
	}
	if *saveKeyFlag != "" {
		return
	}

	ctx := context.Background()
	opts := []adb.Option{adb.WithSigners(signer), adb.WithLogger(logger)}

	source := *sourceFlag
	if *replayURLFlag != "" {
		cred, err := azqueue.NewSharedKeyCredential(*replayAccountFlag, *replayKeyFlag)
		if err != nil {
			fmt.Fprintln(os.Stderr, "adbshell: replay credential:", err)
			os.Exit(1)
		}
		store, err := capture.NewQueueStore(ctx, *replayURLFlag, *replayQueueFlag, cred)
		if err != nil {
			fmt.Fprintln(os.Stderr, "adbshell: open replay store:", err)
			os.Exit(1)
		}
		adb.RegisterLinkFactory("replay", replayFactory{store: store})
		source = "replay://" + *replayQueueFlag
	} else if *recordURLFlag != "" {
		cred, err := azqueue.NewSharedKeyCredential(*recordAccountFlag, *recordKeyFlag)
		if err != nil {
			fmt.Fprintln(os.Stderr, "adbshell: record credential:", err)
			os.Exit(1)
		}
		store, err := capture.NewQueueStore(ctx, *recordURLFlag, *recordQueueFlag, cred)
		if err != nil {
			fmt.Fprintln(os.Stderr, "adbshell: open record store:", err)
			os.Exit(1)
		}
		opts = append(opts, adb.WithLinkWrap(func(link adb.LinkEndpoint) adb.LinkEndpoint {
			return capture.NewRecordingLink(ctx, link, store)
		}))
	}

	if source == "" {
		fmt.Fprintln(os.Stderr, "adbshell: -source is required (or -replay-queue-url for a recorded session)")
		os.Exit(1)
	}

	mgr := adb.NewSessionManager(source, opts...)
	defer mgr.Shutdown()

	stream, err := mgr.Open(adb.ServiceShell(*cmdFlag))
	if err != nil {
		fmt.Fprintln(os.Stderr, "adbshell: open stream:", err)
		os.Exit(1)
	}

	interval := fastPoll
	for {
		chunk, finished := stream.Recv()
		if len(chunk) > 0 {
			os.Stdout.Write(chunk)
			interval = fastPoll
		}
		if finished {
			return
		}
		if len(chunk) == 0 {
			time.Sleep(interval)
			if interval < steadyPoll {
				interval *= 2
				if interval > steadyPoll {
					interval = steadyPoll
				}
			}
		}
	}
}

func loadOrGenerateSigner(keyPath, saveKeyPath string) (*rsasigner.Signer, error) {
	if saveKeyPath != "" {
		s, err := rsasigner.GenerateKey()
		if err != nil {
			return nil, err
		}
		if err := s.SavePrivateKeyFile(saveKeyPath); err != nil {
			return nil, err
		}
		return s, nil
	}
	if keyPath != "" {
		return rsasigner.LoadPrivateKeyFile(keyPath)
	}
	return rsasigner.GenerateKey()
}

// replayFactory adapts a single capture.Store into an adb.LinkFactory, for
// the "replay" scheme registered when -replay-queue-url is set.
type replayFactory struct {
	store capture.Store
}

func (f replayFactory) NewLink(addr *adb.SourceAddr) (adb.LinkEndpoint, error) {
	return capture.NewReplayLink(context.Background(), f.store)
}
