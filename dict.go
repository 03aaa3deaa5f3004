// Copyright (C) 2023 Fluxproto, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package flux

// SeedDict is the static dictionary preloaded into every
// session's string dictionary. It covers the field values
// most common in API traffic so that the first message of a
// session already has references available.
//
// The table is pinned to protocol major version 2: entries
// are append-only within a major version, and both peers
// derive identical ids from it, so it must never be
// reordered.
var SeedDict = []string{
	"id",
	"name",
	"email",
	"type",
	"status",
	"created_at",
	"updated_at",
	"user",
	"data",
	"url",
	"title",
	"description",
	"value",
	"count",
	"total",
	"page",
	"limit",
	"offset",
	"error",
	"message",
	"result",
	"items",
	"true",
	"false",
	"null",
	"active",
	"pending",
	"deleted",
	"success",
	"failed",
	"ok",
	"timestamp",
}
