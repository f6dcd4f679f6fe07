// Copyright 2025, Daniel Anker Hermansen

package main

import (
	"flag"
	"log"
	"os"

	"github.com/Daniel-Anker-Hermansen/x86rs/asm"
	"github.com/Daniel-Anker-Hermansen/x86rs/config"
	"github.com/Daniel-Anker-Hermansen/x86rs/emulator"
	"github.com/Daniel-Anker-Hermansen/x86rs/memory"
)

func main() {
	var machine string
	var compile string
	var output string
	var ticks int
	var restore string
	var save string
	var dump bool
	var verbose bool

	flag.StringVar(&machine, "c", "", ".toml machine description (default: 1 MiB RAM and a console)")
	flag.StringVar(&compile, "a", "", ".s file to assemble and load")
	flag.StringVar(&output, "o", "", "Write the assembled image here, do not execute")
	flag.IntVar(&ticks, "n", 0, "Maximum ticks to run (0 is unlimited)")
	flag.StringVar(&restore, "r", "", "RAM snapshot directory to restore before running")
	flag.StringVar(&save, "s", "", "RAM snapshot directory to save after running")
	flag.BoolVar(&dump, "C", false, "Print the machine description and exit")
	flag.BoolVar(&verbose, "v", false, "Verbose mode")

	flag.Parse()

	if flag.NArg() != 0 {
		log.Fatalf("%v: Unknown arguments: %v", os.Args[0], flag.Args())
	}

	m := config.Default()
	if len(machine) != 0 {
		var err error
		m, err = config.Load(machine)
		if err != nil {
			log.Fatalf("%v: %v", machine, err)
		}
	}

	if dump {
		err := m.Encode(os.Stdout)
		if err != nil {
			log.Fatal(err)
		}
		return
	}

	emu, err := emulator.NewEmulator(m)
	if err != nil {
		log.Fatalf("%v: %v", machine, err)
	}
	defer emu.Close()
	emu.Verbose = verbose

	if verbose {
		log.Printf("machine:\n%v", m)
	}

	// Assemble a new program.
	if len(compile) != 0 {
		inf, err := os.Open(compile)
		if err != nil {
			log.Fatalf("%v: %v", compile, err)
		}
		defer inf.Close()

		asm := &asm.Assembler{Verbose: verbose}
		for key, value := range emu.Defines() {
			asm.Predefine(key, value)
		}
		emu.Program, err = asm.Parse(inf)
		if err != nil {
			log.Fatalf("%v: %v", compile, err)
		}
	}

	if len(output) != 0 {
		err = os.WriteFile(output, emu.Program.Binary(), 0o644)
		if err != nil {
			log.Fatalf("%v: %v", output, err)
		}
		return
	}

	if emu.Console != nil {
		emu.Console.Input = os.Stdin
		emu.Console.Output = os.Stdout
	}

	err = emu.Reset()
	if err != nil {
		log.Fatal(err)
	}

	if len(restore) != 0 {
		err = emu.Restore(os.DirFS(restore))
		if err != nil {
			log.Fatalf("%v: %v", restore, err)
		}
	}

	for done := false; !done; {
		if ticks != 0 && emu.Ticks() >= ticks {
			log.Printf("stopped after %d ticks", emu.Ticks())
			break
		}
		done, err = emu.Tick()
		if err != nil {
			if verbose {
				log.Print(emu.Cpu.String())
			}
			log.Fatal(err)
		}
	}

	if len(save) != 0 {
		err = os.MkdirAll(save, 0o755)
		if err == nil {
			err = emu.Save(memory.DirFS(save))
		}
		if err != nil {
			log.Fatalf("%v: %v", save, err)
		}
	}
}
