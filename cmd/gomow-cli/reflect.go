package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fullstorydev/grpcurl"
	"github.com/jhump/protoreflect/grpcreflect"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
)

var servicesCmd = &cobra.Command{
	Use:   "services",
	Short: "List gRPC services exposed by the controller",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withConn(func(ctx context.Context, conn *grpc.ClientConn) error {
			services, err := grpcurl.ListServices(reflectionSource(ctx, conn))
			if err != nil {
				return fmt.Errorf("list services: %w", err)
			}
			for _, service := range services {
				fmt.Println(service)
			}
			return nil
		})
	},
}

var methodsCmd = &cobra.Command{
	Use:   "methods <service>",
	Short: "List the methods of a service",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withConn(func(ctx context.Context, conn *grpc.ClientConn) error {
			methods, err := grpcurl.ListMethods(reflectionSource(ctx, conn), args[0])
			if err != nil {
				return fmt.Errorf("list methods: %w", err)
			}
			for _, method := range methods {
				fmt.Println(method)
			}
			return nil
		})
	},
}

var callData string

var callCmd = &cobra.Command{
	Use:   "call <service/method | method>",
	Short: "Invoke a method with a JSON body (--data or stdin)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withConn(func(ctx context.Context, conn *grpc.ClientConn) error {
			descSource := reflectionSource(ctx, conn)
			method, err := resolveMethod(descSource, args[0])
			if err != nil {
				return err
			}

			var reader io.Reader
			if callData != "" {
				reader = strings.NewReader(callData)
			} else if isStdinTerminal() {
				reader = strings.NewReader("{}")
			} else {
				reader = os.Stdin
			}

			parser, formatter, err := grpcurl.RequestParserAndFormatter(grpcurl.FormatJSON, descSource, reader, grpcurl.FormatOptions{})
			if err != nil {
				return fmt.Errorf("parse request: %w", err)
			}
			handler := grpcurl.NewDefaultEventHandler(os.Stdout, descSource, formatter, false)
			if err := grpcurl.InvokeRPC(ctx, descSource, conn, method, nil, handler, parser.Next); err != nil {
				return fmt.Errorf("invoke: %w", err)
			}
			if handler.Status != nil && handler.Status.Err() != nil {
				return handler.Status.Err()
			}
			return nil
		})
	},
}

func init() {
	callCmd.Flags().StringVar(&callData, "data", "", "JSON request body")
}

// resolveMethod accepts a full "service/method" name or a bare method name
// that is unique across the exposed services.
func resolveMethod(descSource grpcurl.DescriptorSource, input string) (string, error) {
	if strings.ContainsAny(input, "/") {
		return input, nil
	}
	services, err := grpcurl.ListServices(descSource)
	if err != nil {
		return "", fmt.Errorf("list services: %w", err)
	}
	var methods []string
	for _, service := range services {
		names, err := grpcurl.ListMethods(descSource, service)
		if err != nil {
			continue
		}
		methods = append(methods, names...)
	}
	return matchMethod(input, methods)
}

func reflectionSource(ctx context.Context, conn *grpc.ClientConn) grpcurl.DescriptorSource {
	client := grpcreflect.NewClientAuto(ctx, conn)
	return grpcurl.DescriptorSourceFromServer(ctx, client)
}

func isStdinTerminal() bool {
	info, err := os.Stdin.Stat()
	if err != nil {
		return true
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
