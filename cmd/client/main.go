// Command client is a thin CLI wrapper over the client library. Argument
// parsing and human-readable status tables are the out-of-scope
// "command-line entry point" collaborators the core spec excludes; the
// actual upload/download/delete orchestration lives in package client.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/distfs/distfs/client"
)

func usage() {
	fmt.Fprintln(os.Stderr, "usage: client -coordinator=host:port [-parallel] <upload|download|delete|list|info|status> [args...]")
	flag.PrintDefaults()
}

func main() {
	coordinatorAddr := flag.String("coordinator", "localhost:8080", "coordinator address")
	parallel := flag.Bool("parallel", false, "transfer chunks concurrently for upload/download")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		usage()
		os.Exit(2)
	}

	c := client.New(*coordinatorAddr)
	cmd := args[0]
	rest := args[1:]

	var err error
	switch cmd {
	case "upload":
		if len(rest) != 2 {
			usage()
			os.Exit(2)
		}
		if *parallel {
			err = c.UploadParallel(rest[0], rest[1])
		} else {
			err = c.Upload(rest[0], rest[1])
		}
	case "download":
		if len(rest) != 2 {
			usage()
			os.Exit(2)
		}
		if *parallel {
			err = c.DownloadParallel(rest[0], rest[1])
		} else {
			err = c.Download(rest[0], rest[1])
		}
	case "delete":
		if len(rest) != 1 {
			usage()
			os.Exit(2)
		}
		err = c.Delete(rest[0])
	case "list":
		var files []interface{}
		list, lerr := c.ListFiles()
		err = lerr
		for _, f := range list {
			files = append(files, f)
		}
		for _, f := range files {
			fmt.Printf("%+v\n", f)
		}
	case "info":
		if len(rest) != 1 {
			usage()
			os.Exit(2)
		}
		var info interface{}
		info, err = c.FileInfo(rest[0])
		if err == nil {
			fmt.Printf("%+v\n", info)
		}
	case "status":
		var status interface{}
		status, err = c.ClusterStatus()
		if err == nil {
			fmt.Printf("%+v\n", status)
		}
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
