// sil - assemble, run, and patch textual stack-assembly modules.
package main

import (
	"encoding/binary"
	"fmt"
	"os"
	"strconv"
	"strings"
	"unicode/utf16"

	"github.com/cespare/xxhash/v2"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/silasm/sil/pkg/modfile"
	"github.com/silasm/sil/pkg/patchfile"
	"github.com/silasm/sil/pkg/sil"
	"github.com/silasm/sil/pkg/weaver"
)

var (
	flagDisasm bool
	flagHash   bool
	flagOut    string
	flagMethod string
	flagUTF16  string
	flagPatch  string
)

func main() {
	root := &cobra.Command{
		Use:           "sil",
		Short:         "Assembler toolchain for the sil stack bytecode",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	asmCmd := &cobra.Command{
		Use:   "asm <file.sil>...",
		Short: "Assemble module source files",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runAsm,
	}
	asmCmd.Flags().BoolVar(&flagDisasm, "disasm", false, "print a disassembly listing")
	asmCmd.Flags().BoolVar(&flagHash, "hash", false, "print the xxhash64 digest of the encoded bodies")
	asmCmd.Flags().StringVarP(&flagOut, "out", "o", "", "write encoded bodies to a file")

	runCmd := &cobra.Command{
		Use:   "run <file.sil>...",
		Short: "Assemble and execute one method",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runRun,
	}
	runCmd.Flags().StringVarP(&flagMethod, "method", "m", "", "method to execute, as Type::Name")
	runCmd.Flags().StringVar(&flagUTF16, "utf16", "", "pass a UTF-16 buffer pointer and its length as the arguments")
	runCmd.Flags().StringVarP(&flagPatch, "patches", "p", "", "patch search directory")
	_ = runCmd.MarkFlagRequired("method")

	weaveCmd := &cobra.Command{
		Use:   "weave <file.sil>...",
		Short: "Assemble modules, pulling external patches from a directory",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runWeave,
	}
	weaveCmd.Flags().StringVarP(&flagPatch, "patches", "p", "", "patch search directory")
	weaveCmd.Flags().BoolVar(&flagDisasm, "disasm", false, "print a disassembly listing")

	root.AddCommand(asmCmd, runCmd, weaveCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%serror:%s %v\n", colorRed(), colorOff(), err)
		os.Exit(1)
	}
}

func colorRed() string {
	if term.IsTerminal(int(os.Stderr.Fd())) {
		return "\x1b[31m"
	}
	return ""
}

func colorOff() string {
	if term.IsTerminal(int(os.Stderr.Fd())) {
		return "\x1b[0m"
	}
	return ""
}

// loadAll reads module files in order into one registry, so later files
// can reference earlier ones.
func loadAll(paths []string) (*sil.Registry, error) {
	reg := sil.NewRegistry()
	for _, path := range paths {
		if _, err := modfile.Load(reg, path); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func weave(reg *sil.Registry, patchDir string) error {
	w := &weaver.Weaver{}
	if patchDir != "" {
		w.Cache = patchfile.New(patchDir)
	}
	for _, m := range reg.Modules() {
		if err := w.ProcessModule(m); err != nil {
			return err
		}
	}
	return nil
}

func runAsm(cmd *cobra.Command, args []string) error {
	reg, err := loadAll(args)
	if err != nil {
		return err
	}
	if err := weave(reg, ""); err != nil {
		return err
	}

	var encoded []byte
	for _, m := range reg.Modules() {
		for _, t := range m.Types {
			for _, method := range t.Methods {
				if len(method.Body.Instructions) == 0 {
					continue
				}
				if flagDisasm {
					fmt.Printf("%s:\n%s\n", method.FullName(), sil.Disassemble(method.Body))
				}
				encoded = append(encoded, sil.Encode(method.Body)...)
			}
		}
	}
	if flagHash {
		fmt.Printf("%x\n", xxhash.Sum64(encoded))
	}
	if flagOut != "" {
		if err := os.WriteFile(flagOut, encoded, 0o644); err != nil {
			return err
		}
	}
	return nil
}

func runRun(cmd *cobra.Command, args []string) error {
	files, rest := splitArgs(args)
	reg, err := loadAll(files)
	if err != nil {
		return err
	}
	if err := weave(reg, flagPatch); err != nil {
		return err
	}

	method, err := findMethod(reg, flagMethod)
	if err != nil {
		return err
	}

	var vmArgs []sil.Value
	if flagUTF16 != "" {
		units := utf16.Encode([]rune(flagUTF16))
		mem := make([]byte, 2*len(units))
		for i, u := range units {
			binary.LittleEndian.PutUint16(mem[2*i:], u)
		}
		vmArgs = []sil.Value{sil.Ptr{Mem: mem}, sil.Int32(len(units))}
	} else {
		for _, a := range rest {
			n, err := strconv.ParseInt(a, 0, 32)
			if err != nil {
				return fmt.Errorf("argument %q is not an integer", a)
			}
			vmArgs = append(vmArgs, sil.Int32(n))
		}
	}

	vm := sil.NewVM()
	ret, err := vm.Run(method, vmArgs...)
	if err != nil {
		return err
	}
	if ret != nil {
		fmt.Println(ret)
	}
	return nil
}

func runWeave(cmd *cobra.Command, args []string) error {
	reg, err := loadAll(args)
	if err != nil {
		return err
	}
	if err := weave(reg, flagPatch); err != nil {
		return err
	}
	if flagDisasm {
		for _, m := range reg.Modules() {
			for _, t := range m.Types {
				for _, method := range t.Methods {
					if len(method.Body.Instructions) == 0 {
						continue
					}
					fmt.Printf("%s:\n%s\n", method.FullName(), sil.Disassemble(method.Body))
				}
			}
		}
	}
	return nil
}

// splitArgs separates .sil file paths from trailing method arguments.
func splitArgs(args []string) (files, rest []string) {
	for i, a := range args {
		if !strings.HasSuffix(a, ".sil") {
			return args[:i], args[i:]
		}
	}
	return args, nil
}

func findMethod(reg *sil.Registry, qualified string) (*sil.MethodDef, error) {
	typeName, methodName, ok := strings.Cut(qualified, "::")
	if !ok {
		return nil, fmt.Errorf("method %q is not of the form Type::Name", qualified)
	}
	for _, m := range reg.Modules() {
		if t := m.TypeNamed(typeName); t != nil {
			if ms := t.MethodsNamed(methodName); len(ms) > 0 {
				return ms[0], nil
			}
		}
	}
	return nil, fmt.Errorf("method %q not found", qualified)
}
