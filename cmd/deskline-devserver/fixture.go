// Copyright 2026 The Deskline Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/deskline/deskline/internal/devserver"
	"github.com/deskline/deskline/lib/ref"
	"github.com/deskline/deskline/messaging"
)

// fixtureFile is the YAML layout of --fixture.
type fixtureFile struct {
	Users []struct {
		Token       string `yaml:"token"`
		ID          string `yaml:"id"`
		DisplayName string `yaml:"display_name"`
		Role        string `yaml:"role"`
	} `yaml:"users"`
	Rooms    []string `yaml:"rooms"`
	Messages []struct {
		Room    string `yaml:"room"`
		Sender  string `yaml:"sender"`
		Content string `yaml:"content"`
	} `yaml:"messages"`
}

// seedMessage is a message posted before the relay starts serving.
type seedMessage struct {
	room    ref.RoomID
	sender  devserver.User
	content string
}

// fixture is a validated fixtureFile.
type fixture struct {
	users    map[string]devserver.User
	rooms    []ref.RoomID
	messages []seedMessage
}

// defaultFixture has one agent and one requester and creates rooms on
// demand.
func defaultFixture() *fixture {
	return &fixture{users: map[string]devserver.User{
		"agent-token": {
			ID:          ref.MustParseUserID("agent-1"),
			DisplayName: "Support Agent",
			Role:        messaging.RoleAgent,
		},
		"user-token": {
			ID:          ref.MustParseUserID("requester-1"),
			DisplayName: "Requester",
			Role:        messaging.RoleUser,
		},
	}}
}

func loadFixture(path string) (*fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading fixture: %w", err)
	}
	return parseFixture(data)
}

func parseFixture(data []byte) (*fixture, error) {
	var file fixtureFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing fixture: %w", err)
	}
	if len(file.Users) == 0 {
		return nil, fmt.Errorf("fixture lists no users")
	}

	result := &fixture{users: make(map[string]devserver.User, len(file.Users))}
	byID := make(map[ref.UserID]devserver.User, len(file.Users))
	for index, entry := range file.Users {
		if entry.Token == "" {
			return nil, fmt.Errorf("users[%d]: token is required", index)
		}
		if _, duplicate := result.users[entry.Token]; duplicate {
			return nil, fmt.Errorf("users[%d]: duplicate token", index)
		}
		id, err := ref.ParseUserID(entry.ID)
		if err != nil {
			return nil, fmt.Errorf("users[%d]: %w", index, err)
		}
		role := messaging.RoleUser
		if entry.Role != "" {
			if role, err = messaging.ParseRole(entry.Role); err != nil {
				return nil, fmt.Errorf("users[%d]: %w", index, err)
			}
		}
		user := devserver.User{ID: id, DisplayName: entry.DisplayName, Role: role}
		result.users[entry.Token] = user
		byID[id] = user
	}

	for index, raw := range file.Rooms {
		room, err := ref.ParseRoomID(raw)
		if err != nil {
			return nil, fmt.Errorf("rooms[%d]: %w", index, err)
		}
		result.rooms = append(result.rooms, room)
	}

	for index, entry := range file.Messages {
		room, err := ref.ParseRoomID(entry.Room)
		if err != nil {
			return nil, fmt.Errorf("messages[%d]: %w", index, err)
		}
		senderID, err := ref.ParseUserID(entry.Sender)
		if err != nil {
			return nil, fmt.Errorf("messages[%d]: %w", index, err)
		}
		sender, ok := byID[senderID]
		if !ok {
			return nil, fmt.Errorf("messages[%d]: sender %s is not a listed user", index, senderID)
		}
		result.messages = append(result.messages, seedMessage{room: room, sender: sender, content: entry.Content})
	}
	return result, nil
}

// seed posts the fixture's messages in file order.
func (f *fixture) seed(server *devserver.Server) error {
	for index, message := range f.messages {
		if _, err := server.Post(message.room, message.sender, message.content); err != nil {
			return fmt.Errorf("seeding messages[%d]: %w", index, err)
		}
	}
	return nil
}
