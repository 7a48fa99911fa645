package redisstore

// atomicWriteScript implements storekv.Store.AtomicWrite as a single Lua
// script: a checks phase that aborts on the first failing precondition
// (mirroring DynamoDB TransactWriteItems' all-or-nothing semantics), then
// an effects phase that applies every item plus its secondary-index
// bookkeeping. ARGV[1] is the key prefix, ARGV[2] is a JSON array of items
// (see Store.AtomicWrite for the Go-side shape).
//
// Requires cjson (bundled with redis.Script's Lua 5.1 environment; served
// by gopher-json under miniredis in tests).
const atomicWriteScript = `
local prefix = ARGV[1]
local items = cjson.decode(ARGV[2])

local function rowkey(pk, sk)
  return prefix .. "row:" .. pk .. "\31" .. sk
end
local function qpkey(pk)
  return prefix .. "qp:" .. pk
end
local function allidxkey(entity)
  return prefix .. "allidx:" .. entity
end
local function ididxkey(entityid)
  return prefix .. "ididx:" .. entityid
end

-- checks phase
for i, item in ipairs(items) do
  local rk = rowkey(item.pk, item.sk)
  local cond = item.cond
  if cond == "not_exists" then
    if redis.call("EXISTS", rk) == 1 then
      return {0, i - 1, "row already exists"}
    end
  elseif cond == "not_exists_or_entity_id_equals" then
    local existing = redis.call("GET", rk)
    if existing then
      local row = cjson.decode(existing)
      if row.entity_id ~= item.cond_entity_id then
        return {0, i - 1, "row exists under a different entity"}
      end
    end
  elseif cond == "row_exists" then
    if redis.call("EXISTS", rk) == 0 then
      return {0, i - 1, "row does not exist"}
    end
  end
end

-- effects phase
for _, item in ipairs(items) do
  local rk = rowkey(item.pk, item.sk)
  if item.op == "put" then
    local row = cjson.decode(item.row_json)
    redis.call("SET", rk, item.row_json)
    redis.call("SADD", ididxkey(row.entity_id), item.pk .. "\31" .. item.sk)
    if row.node_type == "query" then
      redis.call("ZADD", qpkey(item.pk), 0, item.sk)
    elseif row.node_type == "base" then
      redis.call("ZADD", allidxkey(row.entity_name), 0, row.entity_id)
    end
  elseif item.op == "delete" then
    local existing = redis.call("GET", rk)
    if existing then
      local row = cjson.decode(existing)
      redis.call("SREM", ididxkey(row.entity_id), item.pk .. "\31" .. item.sk)
      if row.node_type == "query" then
        redis.call("ZREM", qpkey(item.pk), item.sk)
      elseif row.node_type == "base" then
        redis.call("ZREM", allidxkey(row.entity_name), row.entity_id)
      end
    end
    redis.call("DEL", rk)
  elseif item.op == "update" then
    local existing = redis.call("GET", rk)
    if existing then
      local row = cjson.decode(existing)
      local cur = row[item.update_expr] or 0
      row[item.update_expr] = cur + item.update_by
      local encoded = cjson.encode(row)
      redis.call("SET", rk, encoded)
    end
  end
end

return {1}
`
