// Command imgdump is a smoke-test harness for the ptimage library: it
// maps a single file-backed section into an image and dumps the bytes
// at one address. It does not decode or disassemble anything.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"log"

	"github.com/haltcode/ptimage"
)

func main() {
	file := flag.String("file", "", "path to the backing file (required)")
	fileOffset := flag.Uint64("offset", 0, "byte offset into -file where the section starts")
	size := flag.Uint64("size", 0, "section size in bytes (required)")
	vaddr := flag.Uint64("vaddr", 0, "address at which the section is mapped")
	addr := flag.Uint64("addr", 0, "address to read from")
	count := flag.Uint64("count", 16, "number of bytes to read")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s -file path -size n [options]\n", flag.CommandLine.Name())
		flag.PrintDefaults()
	}
	flag.Parse()

	if *file == "" || *size == 0 {
		flag.Usage()
		log.Fatal("missing required -file/-size")
	}

	asid, err := ptimage.FromUser(nil)
	if err != nil {
		log.Fatalf("FromUser: %v", err)
	}

	img := ptimage.NewImage(*file)
	defer img.Close()
	if err := img.AddFile(*file, *fileOffset, *size, asid, *vaddr); err != nil {
		log.Fatalf("AddFile: %v", err)
	}

	buf := make([]byte, *count)
	n, err := img.Read(buf, asid, *addr)
	if err != nil {
		log.Fatalf("Read at %#x: %v", *addr, err)
	}
	fmt.Println(hex.EncodeToString(buf[:n]))
}
