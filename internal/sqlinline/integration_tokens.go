package sqlinline

// QSelectIntegrationToken returns the stored key of a provider; blank keys
// count as missing.
const QSelectIntegrationToken = `--sql 3c1f7a2e-94b0-4d5e-8f61-2a7b9c0d4e18
select t.token
from integration_tokens t
where t.provider = $1::text
  and btrim(t.token) <> '';
`

// QUpsertIntegrationToken stores a provider key. Properties are merged so a
// key rotation keeps settings stored earlier, such as base_url.
const QUpsertIntegrationToken = `--sql b7e2d9c4-1a65-4f3b-9d08-6e5c2f1a7b93
insert into integration_tokens (provider, token, properties)
values ($1::text, btrim($2::text), coalesce($3::jsonb, '{}'::jsonb))
on conflict (provider) do update set
    token = excluded.token,
    properties = integration_tokens.properties || excluded.properties,
    updated_at = now();
`
