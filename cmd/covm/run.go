package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/covm/covm/core"
	"github.com/covm/covm/pkg/config"
	"github.com/covm/covm/pkg/utils"
)

func runCmd(cfg *config.Config) *cobra.Command {
	var useBytecode bool
	var verbose bool
	storageDir := cfg.Storage.DataDir
	if cfg.Storage.Backend != "file" {
		storageDir = ""
	}
	maxRecursionDepth := cfg.VM.MaxRecursionDepth
	eventBufferSize := cfg.VM.EventBufferSize
	if eventBufferSize <= 0 {
		eventBufferSize = utils.EnvOrDefaultInt("COVM_EVENT_BUFFER_SIZE", 1024)
	}
	bootstrapRole := cfg.Identity.BootstrapRole
	if bootstrapRole == "" {
		bootstrapRole = "admin"
	}
	defaultQuotaBytes := cfg.Storage.DefaultQuotaBytes
	if defaultQuotaBytes == 0 {
		defaultQuotaBytes = utils.EnvOrDefaultUint64("COVM_DEFAULT_QUOTA_BYTES", 0)
	}

	cmd := &cobra.Command{
		Use:   "run <program.json>",
		Short: "execute a program with either the tree-walk or bytecode engine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			sink := core.NewRingBuffer(eventBufferSize)
			storage, err := newStorage(storageDir, sink)
			if err != nil {
				return err
			}
			auth := bootstrapAuth("cli", bootstrapRole)
			if defaultQuotaBytes > 0 {
				if verr := storage.CreateAccount(auth, "cli", int64(defaultQuotaBytes)); verr != nil {
					return fmt.Errorf("%s", verr.Error())
				}
			}
			vm := core.NewVM(auth, storage, sink)
			if maxRecursionDepth > 0 {
				vm.MaxRecursionDepth = maxRecursionDepth
			}

			var runErr *core.VMError
			if useBytecode {
				var prog core.Program
				if jerr := json.Unmarshal(data, &prog); jerr != nil {
					return jerr
				}
				runErr = vm.RunBytecode(&prog)
			} else {
				var ops []core.Operation
				if jerr := json.Unmarshal(data, &ops); jerr != nil {
					return jerr
				}
				runErr = vm.Run(ops)
			}

			if verbose {
				for _, ev := range sink.Events() {
					fmt.Fprintf(os.Stderr, "[%s] %s\n", ev.Category, ev.Message)
				}
			}
			if runErr != nil {
				return fmt.Errorf("%s", runErr.Error())
			}
			b, jerr := json.MarshalIndent(vm.Stack, "", "  ")
			if jerr != nil {
				return jerr
			}
			fmt.Println(string(b))
			return nil
		},
	}
	cmd.Flags().BoolVar(&useBytecode, "bytecode", false, "interpret <program.json> as a compiled bytecode Program instead of an operation tree")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print emitted events to stderr")
	cmd.Flags().StringVar(&storageDir, "storage-dir", storageDir, "use the file storage backend rooted here instead of in-memory storage")
	cmd.Flags().IntVar(&maxRecursionDepth, "max-recursion-depth", maxRecursionDepth, "override the VM's bounded recursion depth (0 keeps the engine default)")
	cmd.Flags().Uint64Var(&defaultQuotaBytes, "default-quota-bytes", defaultQuotaBytes, "pre-provision the \"cli\" caller's resource account with this storage quota (0 skips provisioning, leaving account creation to CreateResource)")
	return cmd
}

func newStorage(dir string, sink core.EventSink) (core.Storage, error) {
	if dir == "" {
		return core.NewMemoryStorage(sink), nil
	}
	return core.NewFileStorage(dir, logrus.StandardLogger(), sink)
}

// bootstrapAuth grants callerID role in the default namespace so a
// standalone CLI invocation can exercise every opcode without a separate
// role-provisioning step.
func bootstrapAuth(callerID, role string) *core.AuthContext {
	reg := core.NewMemRoleRegistry()
	_ = reg.GrantRole(callerID, core.DefaultNamespace, role)
	identity := core.Identity{ID: callerID, Type: "user"}
	return core.NewAuthContext(identity, reg)
}
